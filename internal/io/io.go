package io

import (
	"bytes"
	"io"
	"strings"
)

// ReadAtMost 最多读取 n 个字节，剩余的数据将被丢弃
func ReadAtMost(r io.Reader, n int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return b, err
	}
	return b, SinkAll(r)
}

func SinkAll(r io.Reader) (err error) {
	switch b := r.(type) {
	case *bytes.Reader:
		_, err = b.Seek(0, io.SeekEnd)
	case *strings.Reader:
		_, err = b.Seek(0, io.SeekEnd)
	default:
		_, err = io.Copy(io.Discard, r)
	}
	return
}
