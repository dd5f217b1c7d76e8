package source

import (
	"errors"
)

var ErrSourceClosed = errors.New("tus: source already closed")

type (
	// SliceResult 数据源切片结果
	SliceResult struct {
		// Value 切片数据，数据源已经读尽且没有剩余数据时为空
		Value []byte

		// Size 切片数据长度
		Size uint64

		// Done 数据源是否已经读尽，且本次切片未能覆盖请求的范围
		Done bool
	}

	// Source 可按字节范围切片的数据源
	//
	// 调用方可以重复请求相同或更靠后的起始位置，但不能请求比之前更靠前的起始位置
	Source interface {
		// Size 数据源大小，未知时第二个返回值为 false
		Size() (uint64, bool)

		// Slice 获取 [start, end) 范围内的数据
		Slice(start, end uint64) (SliceResult, error)

		Close() error
	}

	// Sectioner 支持随机访问的数据源，可以为每个分段创建独立的数据源
	Sectioner interface {
		Source

		// Section 创建 [start, end) 范围内的子数据源，子数据源关闭时不会关闭父数据源
		Section(start, end uint64) Source
	}
)

func makeSliceResult(value []byte, done bool) SliceResult {
	return SliceResult{Value: value, Size: uint64(len(value)), Done: done}
}
