package source

import (
	"fmt"
	"io"
	"sync"

	"github.com/qiniu/go-tus/errors"
)

const (
	defaultStreamBlockSize = 1 << 16
	maxStreamBlockSize     = 1 << 22
)

type streamSource struct {
	r         io.Reader
	blockSize uint64
	buffer    []byte
	// bufferOffset 为 buffer 第一个字节在整个数据流中的偏移量
	bufferOffset uint64
	done         bool
	closed       bool
	m            sync.Mutex
}

// NewStreamSource 创建只能向前读取的数据源
//
// 数据源会缓存最近一次切片起始位置之后的数据，以支持对同一位置的重复切片
func NewStreamSource(r io.Reader, chunkSize uint64) Source {
	blockSize := chunkSize
	if blockSize == 0 {
		blockSize = defaultStreamBlockSize
	} else if blockSize > maxStreamBlockSize {
		blockSize = maxStreamBlockSize
	}
	return &streamSource{r: r, blockSize: blockSize}
}

func (s *streamSource) Size() (uint64, bool) {
	return 0, false
}

func (s *streamSource) Slice(start, end uint64) (SliceResult, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return SliceResult{}, ErrSourceClosed
	}
	if start < s.bufferOffset {
		return SliceResult{}, fmt.Errorf("%w (requested %d, current %d)", errors.ErrSoughtPastDiscarded, start, s.bufferOffset)
	}
	if end < start {
		end = start
	}
	s.discardBefore(start)

	for !s.done && s.bufferEnd() < end {
		block, err := s.readBlock()
		if err != nil {
			return SliceResult{}, err
		}
		if len(block) == 0 {
			continue
		}
		if s.bufferEnd()+uint64(len(block)) <= start {
			// 整块都在 start 之前，无需缓存
			s.bufferOffset += uint64(len(block))
			continue
		}
		s.buffer = append(s.buffer, block...)
		s.discardBefore(start)
	}

	if start >= s.bufferEnd() {
		return makeSliceResult(nil, s.done), nil
	}
	to := uint64(len(s.buffer))
	if end-s.bufferOffset < to {
		to = end - s.bufferOffset
	}
	value := make([]byte, to-(start-s.bufferOffset))
	copy(value, s.buffer[start-s.bufferOffset:to])
	return makeSliceResult(value, s.done && s.bufferEnd() < end), nil
}

func (s *streamSource) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.buffer = nil
	if closer, ok := s.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *streamSource) bufferEnd() uint64 {
	return s.bufferOffset + uint64(len(s.buffer))
}

func (s *streamSource) discardBefore(start uint64) {
	if start <= s.bufferOffset {
		return
	}
	if drop := start - s.bufferOffset; drop < uint64(len(s.buffer)) {
		s.buffer = append([]byte(nil), s.buffer[drop:]...)
		s.bufferOffset = start
	} else {
		s.bufferOffset += uint64(len(s.buffer))
		s.buffer = nil
	}
}

func (s *streamSource) readBlock() ([]byte, error) {
	block := make([]byte, s.blockSize)
	n, err := s.r.Read(block)
	if err == io.EOF {
		s.done = true
	} else if err != nil {
		return nil, fmt.Errorf("tus: failed to read from source: %w", err)
	}
	return block[:n], nil
}
