package io

import (
	"io"
	"sync/atomic"
)

// ProgressReader 在每次读取后汇报累计读取的字节数
type ProgressReader struct {
	r        io.Reader
	read     uint64
	progress func(uint64)
}

func NewProgressReader(r io.Reader, progress func(uint64)) *ProgressReader {
	return &ProgressReader{r: r, progress: progress}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		read := atomic.AddUint64(&pr.read, uint64(n))
		if pr.progress != nil {
			pr.progress(read)
		}
	}
	return n, err
}

// BytesRead 返回已读取的字节数
func (pr *ProgressReader) BytesRead() uint64 {
	return atomic.LoadUint64(&pr.read)
}

func (pr *ProgressReader) Close() error {
	if closer, ok := pr.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
