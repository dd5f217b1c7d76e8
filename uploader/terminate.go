package uploader

import (
	"context"
	"net/http"
	"time"

	"github.com/qiniu/go-tus/retrier"
)

// Terminate 删除服务端的上传，失败时按 options 中的重试策略重试
func Terminate(ctx context.Context, url string, options *Options) error {
	if options == nil {
		options = &Options{}
	}
	opts := options.withDefaults()
	return terminateUpload(ctx, url, &opts, opts.retrierOptions())
}

// 重试次数单独计数，与上传本身的重试次数互不影响
func terminateUpload(ctx context.Context, url string, options *Options, retrierOptions *retrier.Options) error {
	for retryAttempt := 0; ; retryAttempt++ {
		req, err := openRequest(options, http.MethodDelete, url)
		if err != nil {
			return err
		}
		resp, err := sendRequest(ctx, options, req, nil, "tus: failed to terminate upload")
		if err == nil {
			if resp.StatusCode() == http.StatusNoContent {
				return nil
			}
			err = newDetailedError("tus: unexpected response while terminating upload", nil, req, resp)
		}
		if !retrier.ShouldRetry(err, retryAttempt, retrierOptions) {
			return err
		}

		timer := time.NewTimer(retrier.Delay(ctx, retryAttempt, retrierOptions))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
