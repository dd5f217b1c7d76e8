package source

import (
	"bytes"
	"io"
	"sync"
)

type readAtSource struct {
	r      io.ReaderAt
	size   uint64
	closer io.Closer
	closed bool
	m      sync.Mutex
}

// NewReaderAtSource 创建支持随机访问的数据源，closer 可以为 nil
func NewReaderAtSource(r io.ReaderAt, size uint64, closer io.Closer) Sectioner {
	return &readAtSource{r: r, size: size, closer: closer}
}

// NewBytesSource 创建内存数据源
func NewBytesSource(b []byte) Sectioner {
	return NewReaderAtSource(bytes.NewReader(b), uint64(len(b)), nil)
}

func (s *readAtSource) Size() (uint64, bool) {
	return s.size, true
}

func (s *readAtSource) Slice(start, end uint64) (SliceResult, error) {
	s.m.Lock()
	closed := s.closed
	s.m.Unlock()
	if closed {
		return SliceResult{}, ErrSourceClosed
	}

	done := end >= s.size
	if end > s.size {
		end = s.size
	}
	if start > end {
		start = end
	}
	if start == end {
		return makeSliceResult(nil, done), nil
	}
	value := make([]byte, end-start)
	n, err := s.r.ReadAt(value, int64(start))
	if err != nil && !(err == io.EOF && n == len(value)) {
		if err != io.EOF {
			return SliceResult{}, err
		}
		// 实际数据比声明的大小更短
		done = true
	}
	return makeSliceResult(value[:n], done), nil
}

func (s *readAtSource) Section(start, end uint64) Source {
	if end > s.size {
		end = s.size
	}
	if start > end {
		start = end
	}
	return NewReaderAtSource(io.NewSectionReader(s.r, int64(start), int64(end-start)), end-start, nil)
}

func (s *readAtSource) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
