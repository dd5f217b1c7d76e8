package uploader

import (
	"context"

	"github.com/google/uuid"

	"github.com/qiniu/go-tus/errors"
	httpclient "github.com/qiniu/go-tus/http_client"
)

const (
	tusResumableVersion = "1.0.0"
	requestIDHeader     = "X-Request-ID"
)

func openRequest(options *Options, method, url string) (httpclient.Request, error) {
	req, err := options.Transport.CreateRequest(method, url)
	if err != nil {
		return nil, err
	}
	switch options.Protocol {
	case ProtocolIETFDraft03:
		req.SetHeader("Upload-Draft-Interop-Version", "5")
	case ProtocolIETFDraft05:
		req.SetHeader("Upload-Draft-Interop-Version", "6")
	default:
		req.SetHeader("Tus-Resumable", tusResumableVersion)
	}
	for key, value := range options.Headers {
		req.SetHeader(key, value)
	}
	if options.AddRequestID {
		req.SetHeader(requestIDHeader, uuid.NewString())
	}
	return req, nil
}

// 发送请求并调用请求前后的回调，传输层错误被包装为 DetailedError
func sendRequest(ctx context.Context, options *Options, req httpclient.Request, body []byte, failure string) (httpclient.Response, error) {
	if options.OnBeforeRequest != nil {
		if err := options.OnBeforeRequest(req); err != nil {
			return nil, err
		}
	}
	resp, err := req.Send(ctx, body)
	if err != nil {
		options.Metrics.ObserveRequest(req.Method(), 0)
		return nil, newDetailedError(failure, err, req, nil)
	}
	options.Metrics.ObserveRequest(req.Method(), resp.StatusCode())
	if options.OnAfterResponse != nil {
		if err = options.OnAfterResponse(req, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func newDetailedError(message string, cause error, req httpclient.Request, resp httpclient.Response) *errors.DetailedError {
	err := &errors.DetailedError{Message: message, Cause: cause}
	if req != nil {
		err.Request = &errors.RequestInfo{
			Method:    req.Method(),
			URL:       req.URL(),
			RequestID: req.Header(requestIDHeader),
		}
	}
	if resp != nil {
		err.Response = &errors.ResponseInfo{StatusCode: resp.StatusCode(), Body: resp.Body()}
	}
	return err
}

func newProtocolError(message string, req httpclient.Request, resp httpclient.Response) errors.ProtocolError {
	return errors.ProtocolError{DetailedError: newDetailedError(message, nil, req, resp)}
}

func inStatusCategory(statusCode, category int) bool {
	return statusCode >= category && statusCode < category+100
}
