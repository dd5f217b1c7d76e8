package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSoughtPastDiscarded 数据源已丢弃了请求位置之前的数据
	ErrSoughtPastDiscarded = errors.New("tus: cannot slice from position which we already seeked away")

	// ErrUploadAborted 上传已被中止
	ErrUploadAborted = errors.New("tus: upload aborted")
)

type (
	// ValidationError 参数组合非法，不会被重试
	ValidationError struct {
		Message string
	}

	// RequestInfo 引发错误的请求
	RequestInfo struct {
		Method    string
		URL       string
		RequestID string
	}

	// ResponseInfo 引发错误的响应
	ResponseInfo struct {
		StatusCode int
		Body       string
	}

	// DetailedError 携带原始请求与响应的错误
	DetailedError struct {
		Message  string
		Cause    error
		Request  *RequestInfo
		Response *ResponseInfo
	}

	// ProtocolError 服务端响应缺少必要的协议头
	ProtocolError struct {
		*DetailedError
	}

	// SizeMismatchError 声明的上传大小与数据源实际大小不一致
	SizeMismatchError struct {
		Configured uint64
		Actual     uint64
	}
)

func (err ValidationError) Error() string {
	return err.Message
}

func (err *DetailedError) Error() string {
	var sb strings.Builder
	sb.WriteString(err.Message)
	if err.Cause != nil {
		sb.WriteString(", caused by ")
		sb.WriteString(err.Cause.Error())
	}
	if req := err.Request; req != nil {
		requestID := req.RequestID
		if requestID == "" {
			requestID = "n/a"
		}
		statusCode := "n/a"
		body := "n/a"
		if resp := err.Response; resp != nil {
			statusCode = fmt.Sprint(resp.StatusCode)
			body = resp.Body
		}
		fmt.Fprintf(&sb, ", originated from request (method: %s, url: %s, response code: %s, response text: %s, request id: %s)",
			req.Method, req.URL, statusCode, body, requestID)
	}
	return sb.String()
}

func (err *DetailedError) Unwrap() error {
	return err.Cause
}

// StatusCode 返回响应状态码，没有响应时返回 0
func (err *DetailedError) StatusCode() int {
	if err.Response == nil {
		return 0
	}
	return err.Response.StatusCode
}

func (err ProtocolError) Unwrap() error {
	return err.DetailedError
}

func (err SizeMismatchError) Error() string {
	return fmt.Sprintf("tus: upload was configured with a size of %d bytes, but the source is done after %d bytes", err.Configured, err.Actual)
}

// AsDetailedError 从错误链中找出 DetailedError
func AsDetailedError(err error) (*DetailedError, bool) {
	var detailedErr *DetailedError
	if errors.As(err, &detailedErr) {
		return detailedErr, true
	}
	return nil, false
}

// IsProtocolError 判断是否为协议错误
func IsProtocolError(err error) bool {
	var protocolErr ProtocolError
	return errors.As(err, &protocolErr)
}
