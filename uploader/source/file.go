package source

import (
	"io"
	"os"

	"modernc.org/fileutil"
)

// NewFileSource 打开本地文件作为数据源
//
// 常规文件以随机访问方式读取，管道等无法 Seek 的文件则作为数据流读取
func NewFileSource(filePath string, chunkSize uint64) (Source, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	src, err := newOsFileSource(file, chunkSize, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return src, nil
}

func newOsFileSource(file *os.File, chunkSize uint64, closer io.Closer) (Source, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if !fileInfo.Mode().IsRegular() {
		return NewStreamSource(readCloser{file, closer}, chunkSize), nil
	}
	if _, err := file.Seek(0, io.SeekCurrent); err != nil {
		return NewStreamSource(readCloser{file, closer}, chunkSize), nil
	}
	_ = fileutil.Fadvise(file, 0, 0, fileutil.POSIX_FADV_SEQUENTIAL)
	return NewReaderAtSource(file, uint64(fileInfo.Size()), closer), nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc readCloser) Close() error {
	if rc.closer == nil {
		return nil
	}
	return rc.closer.Close()
}
