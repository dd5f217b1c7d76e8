package source

import (
	"errors"
	"io"
	"os"
)

var ErrUnsupportedInput = errors.New("tus: source object may only be a file path, an *os.File, a []byte, an io.ReaderAt with a Size method or an io.Reader")

type (
	// Opener 将上传输入转换为数据源
	Opener interface {
		Open(input interface{}, chunkSize uint64) (Source, error)
	}

	// OpenerFunc 函数形式的 Opener
	OpenerFunc func(input interface{}, chunkSize uint64) (Source, error)

	sizedReaderAt interface {
		io.ReaderAt
		Size() int64
	}

	defaultOpener struct{}
)

func (fn OpenerFunc) Open(input interface{}, chunkSize uint64) (Source, error) {
	return fn(input, chunkSize)
}

// NewDefaultOpener 创建默认的 Opener
//
// 由调用方传入的文件和 Reader 不会被数据源关闭，只有通过路径打开的文件会在数据源关闭时一同关闭
func NewDefaultOpener() Opener {
	return defaultOpener{}
}

func (defaultOpener) Open(input interface{}, chunkSize uint64) (Source, error) {
	switch in := input.(type) {
	case Source:
		return in, nil
	case string:
		return NewFileSource(in, chunkSize)
	case *os.File:
		return newOsFileSource(in, chunkSize, nil)
	case []byte:
		return NewBytesSource(in), nil
	case sizedReaderAt:
		return NewReaderAtSource(in, uint64(in.Size()), nil), nil
	case io.Reader:
		return NewStreamSource(readCloser{Reader: in}, chunkSize), nil
	default:
		return nil, ErrUnsupportedInput
	}
}
