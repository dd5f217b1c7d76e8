package http_client

import "context"

type (
	// Transport 创建请求的 HTTP 栈
	Transport interface {
		// CreateRequest 创建一个新的请求
		CreateRequest(method, url string) (Request, error)

		// SupportsProgressEvents 是否支持汇报上传进度
		SupportsProgressEvents() bool
	}

	// Request HTTP 请求
	Request interface {
		Method() string
		URL() string
		SetHeader(key, value string)
		Header(key string) string

		// SetProgressHandler 设置上传进度回调，参数为本次请求已发送的字节数
		SetProgressHandler(func(bytesSent uint64))

		// Send 发送请求，body 为 nil 表示没有请求体
		Send(ctx context.Context, body []byte) (Response, error)

		// Abort 中止正在进行的请求
		Abort() error
	}

	// Response HTTP 响应
	Response interface {
		StatusCode() int
		Header(key string) string
		Body() string
	}
)
