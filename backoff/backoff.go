package backoff

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/alex-ant/gomath/rational"
)

type (
	// Backoff 退避器接口
	Backoff interface {
		// Time 获取重试的退避时长间隔
		Time(context.Context, *BackoffOptions) time.Duration
	}

	// BackoffOptions 退避器选项
	BackoffOptions struct {
		// Attempts 重试次数
		Attempts int
	}
)

type delaysBackoff struct {
	delays []time.Duration
}

// NewDelaysBackoff 创建按重试次数依次取出退避时长的退避器，超出列表长度时使用最后一项
func NewDelaysBackoff(delays []time.Duration) Backoff {
	return delaysBackoff{delays: delays}
}

func (s delaysBackoff) Time(_ context.Context, opts *BackoffOptions) time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	attempts := 0
	if opts != nil {
		attempts = opts.Attempts
	}
	if attempts < 0 {
		attempts = 0
	} else if attempts >= len(s.delays) {
		attempts = len(s.delays) - 1
	}
	return s.delays[attempts]
}

type randomizedBackoff struct {
	base                        Backoff
	minification, magnification rational.Rational
	r                           *rand.Rand
	mutex                       sync.Mutex
}

// NewRandomizedBackoff 创建随机时长的退避器
func NewRandomizedBackoff(base Backoff, minification, magnification rational.Rational) Backoff {
	if minification.LessThanNum(0) {
		panic("minification must be greater than or equal to 0")
	}
	if magnification.LessThanNum(0) || magnification.GetNumerator() == 0 {
		panic("magnification must be greater than 0")
	}
	return &randomizedBackoff{
		base:          base,
		minification:  minification,
		magnification: magnification,
		r:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *randomizedBackoff) Time(ctx context.Context, opts *BackoffOptions) time.Duration {
	b := s.base.Time(ctx, opts)
	min := s.minification.MultiplyByNum(int64(b))
	max := s.magnification.MultiplyByNum(int64(b))
	diff := int64(max.Subtract(min).Float64())
	if diff <= 0 {
		return time.Duration(min.Float64())
	}
	s.mutex.Lock()
	r := s.r.Int63n(diff)
	s.mutex.Unlock()
	return time.Duration(min.AddNum(r).Float64())
}

// NewJitteredBackoff 在 base 的基础上增加 ±percent% 的随机抖动，percent 为 0 时直接返回 base
func NewJitteredBackoff(base Backoff, percent int) Backoff {
	if percent <= 0 {
		return base
	}
	if percent > 100 {
		percent = 100
	}
	return NewRandomizedBackoff(base, rational.New(int64(100-percent), 100), rational.New(int64(100+percent), 100))
}
