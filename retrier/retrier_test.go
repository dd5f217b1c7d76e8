package retrier_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qiniu/go-tus/backoff"
	"github.com/qiniu/go-tus/errors"
	"github.com/qiniu/go-tus/retrier"
)

func httpErr(statusCode int) error {
	err := &errors.DetailedError{
		Message: "tus: unexpected response",
		Request: &errors.RequestInfo{Method: "PATCH", URL: "http://tus.io/files/upload"},
	}
	if statusCode > 0 {
		err.Response = &errors.ResponseInfo{StatusCode: statusCode}
	}
	return err
}

func TestShouldRetry(t *testing.T) {
	options := &retrier.Options{RetryDelays: []time.Duration{0, 10, 20}}

	assert.True(t, retrier.ShouldRetry(httpErr(500), 0, options))
	assert.True(t, retrier.ShouldRetry(httpErr(0), 2, options))
	assert.True(t, retrier.ShouldRetry(httpErr(409), 0, options))
	assert.True(t, retrier.ShouldRetry(httpErr(423), 0, options))
	assert.False(t, retrier.ShouldRetry(httpErr(404), 0, options))
	assert.False(t, retrier.ShouldRetry(httpErr(400), 0, options))
	assert.False(t, retrier.ShouldRetry(httpErr(500), 3, options))
	assert.False(t, retrier.ShouldRetry(stderrors.New("local"), 0, options))
	assert.False(t, retrier.ShouldRetry(&errors.DetailedError{Message: "no request"}, 0, options))
	assert.False(t, retrier.ShouldRetry(httpErr(500), 0, &retrier.Options{}))
	assert.False(t, retrier.ShouldRetry(httpErr(500), 0, nil))

	protocolErr := errors.ProtocolError{DetailedError: httpErr(204).(*errors.DetailedError)}
	assert.False(t, retrier.ShouldRetry(protocolErr, 0, options))
	assert.True(t, retrier.ShouldRetry(fmt.Errorf("wrapped: %w", httpErr(502)), 0, options))
}

func TestShouldRetryOffline(t *testing.T) {
	options := &retrier.Options{RetryDelays: []time.Duration{0}, IsOnline: func() bool { return false }}
	assert.False(t, retrier.ShouldRetry(httpErr(500), 0, options))
}

func TestCustomShouldRetryIsAuthoritative(t *testing.T) {
	var calls []int
	options := &retrier.Options{
		RetryDelays: []time.Duration{0, 0},
		OnShouldRetry: func(err error, retryAttempt int, options *retrier.Options) bool {
			calls = append(calls, retryAttempt)
			return true
		},
	}
	assert.True(t, retrier.ShouldRetry(httpErr(404), 1, options))
	// 仍然受限于重试次数和请求是否存在
	assert.False(t, retrier.ShouldRetry(httpErr(404), 2, options))
	assert.False(t, retrier.ShouldRetry(stderrors.New("local"), 0, options))
	assert.Equal(t, []int{1}, calls)
}

func TestTrackerResetsOnProgress(t *testing.T) {
	options := &retrier.Options{RetryDelays: []time.Duration{10, 20}}
	var tracker retrier.Tracker

	delay, ok := tracker.Next(context.Background(), httpErr(500), 0, options)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(10), delay)
	delay, ok = tracker.Next(context.Background(), httpErr(500), 0, options)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(20), delay)
	_, ok = tracker.Next(context.Background(), httpErr(500), 0, options)
	assert.False(t, ok)

	// 偏移量前进后重试次数清零
	delay, ok = tracker.Next(context.Background(), httpErr(500), 7, options)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(10), delay)
	assert.Equal(t, 1, tracker.Attempt)
	assert.Equal(t, uint64(7), tracker.OffsetBeforeRetry)
}

func TestDelayWithBackoff(t *testing.T) {
	options := &retrier.Options{
		RetryDelays: []time.Duration{1, 2, 3},
		Backoff:     backoff.NewDelaysBackoff([]time.Duration{100, 200, 400}),
	}
	assert.Equal(t, time.Duration(3), retrier.Delay(context.Background(), 2, &retrier.Options{RetryDelays: options.RetryDelays}))
	assert.Equal(t, time.Duration(400), retrier.Delay(context.Background(), 2, options))
	assert.Equal(t, time.Duration(0), retrier.Delay(context.Background(), 2, nil))
}
