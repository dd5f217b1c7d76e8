package retrier

import (
	"context"
	"net/http"
	"time"

	"github.com/qiniu/go-tus/backoff"
	"github.com/qiniu/go-tus/errors"
)

type (
	// Options 重试器选项
	Options struct {
		// RetryDelays 每次重试前的等待时长，为空则不重试
		RetryDelays []time.Duration

		// Backoff 如果设置，则由其代替 RetryDelays 计算等待时长，但重试次数仍由 RetryDelays 的长度决定
		Backoff backoff.Backoff

		// OnShouldRetry 自定义的重试判断，如果设置，则其结果具有最终决定权
		OnShouldRetry func(err error, retryAttempt int, options *Options) bool

		// IsOnline 判断网络是否连通，无法判断时视为连通
		IsOnline func() bool
	}

	// Tracker 记录一个上传会话的重试状态
	Tracker struct {
		// Attempt 当前的重试次数
		Attempt int

		// OffsetBeforeRetry 上一次重试开始前的偏移量
		OffsetBeforeRetry uint64
	}
)

// ShouldRetry 判断错误是否应该被重试
func ShouldRetry(err error, retryAttempt int, options *Options) bool {
	if options == nil || len(options.RetryDelays) == 0 || retryAttempt >= len(options.RetryDelays) {
		return false
	}
	detailedErr, ok := errors.AsDetailedError(err)
	if !ok || detailedErr.Request == nil {
		return false
	}
	if options.OnShouldRetry != nil {
		return options.OnShouldRetry(err, retryAttempt, options)
	}
	return DefaultShouldRetry(err, options)
}

// DefaultShouldRetry 默认的重试判断：除 409 和 423 以外的 4xx 响应不重试，协议错误不重试，离线时不重试
func DefaultShouldRetry(err error, options *Options) bool {
	if errors.IsProtocolError(err) {
		return false
	}
	var statusCode int
	if detailedErr, ok := errors.AsDetailedError(err); ok {
		statusCode = detailedErr.StatusCode()
	}
	return IsStatusCodeRetryable(statusCode) && isOnline(options)
}

// IsStatusCodeRetryable 判断状态码是否可以重试，0 表示没有收到响应
func IsStatusCodeRetryable(statusCode int) bool {
	if statusCode == http.StatusConflict || statusCode == http.StatusLocked {
		return true
	}
	return statusCode < 400 || statusCode >= 500
}

// Delay 获取第 retryAttempt 次重试前的等待时长
func Delay(ctx context.Context, retryAttempt int, options *Options) time.Duration {
	if options == nil {
		return 0
	}
	b := options.Backoff
	if b == nil {
		b = backoff.NewDelaysBackoff(options.RetryDelays)
	}
	return b.Time(ctx, &backoff.BackoffOptions{Attempts: retryAttempt})
}

// Next 根据错误与当前偏移量决定是否重试，返回等待时长
//
// 如果自上次重试以来偏移量有所前进，则重试次数清零
func (t *Tracker) Next(ctx context.Context, err error, offset uint64, options *Options) (time.Duration, bool) {
	if offset > t.OffsetBeforeRetry {
		t.Attempt = 0
	}
	if !ShouldRetry(err, t.Attempt, options) {
		return 0, false
	}
	delay := Delay(ctx, t.Attempt, options)
	t.Attempt++
	t.OffsetBeforeRetry = offset
	return delay, true
}

func isOnline(options *Options) bool {
	if options == nil || options.IsOnline == nil {
		return true
	}
	return options.IsOnline()
}
