package http_client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"net/url"
	"sync"

	internal_io "github.com/qiniu/go-tus/internal/io"
	"github.com/sirupsen/logrus"
)

const defaultMaxResponseBodySize = 1 << 20

var ErrRequestAborted = errors.New("tus: request aborted")

type (
	// Options 为构建 Transport 提供了可选参数
	Options struct {
		// BasicHTTPClient 底层 HTTP 客户端，默认为 http.DefaultClient
		BasicHTTPClient *http.Client

		// Logger 调试日志输出
		Logger logrus.FieldLogger

		// PrintRequest 是否以调试级别打印请求与响应头
		PrintRequest bool

		// PrintRequestDetail 是否同时打印请求与响应体
		PrintRequestDetail bool

		// PrintRequestTrace 是否打印连接过程
		PrintRequestTrace bool

		// MaxResponseBodySize 响应体最多读取的字节数，默认为 1 MB
		MaxResponseBodySize int64
	}

	httpTransport struct {
		client              *http.Client
		logger              logrus.FieldLogger
		printRequest        bool
		printRequestDetail  bool
		printRequestTrace   bool
		maxResponseBodySize int64
	}

	httpRequest struct {
		transport *httpTransport
		method    string
		url       string
		header    http.Header
		progress  func(uint64)

		mu      sync.Mutex
		cancel  context.CancelFunc
		aborted bool
	}

	httpResponse struct {
		statusCode int
		header     http.Header
		body       string
	}
)

// NewTransport 创建基于 net/http 的 Transport
func NewTransport(options *Options) Transport {
	if options == nil {
		options = &Options{}
	}
	client := options.BasicHTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxResponseBodySize := options.MaxResponseBodySize
	if maxResponseBodySize <= 0 {
		maxResponseBodySize = defaultMaxResponseBodySize
	}
	return &httpTransport{
		client:              client,
		logger:              logger,
		printRequest:        options.PrintRequest,
		printRequestDetail:  options.PrintRequestDetail,
		printRequestTrace:   options.PrintRequestTrace,
		maxResponseBodySize: maxResponseBodySize,
	}
}

func (t *httpTransport) CreateRequest(method, rawURL string) (Request, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, err
	}
	return &httpRequest{transport: t, method: method, url: rawURL, header: make(http.Header)}, nil
}

func (t *httpTransport) SupportsProgressEvents() bool {
	return true
}

func (r *httpRequest) Method() string {
	return r.method
}

func (r *httpRequest) URL() string {
	return r.url
}

func (r *httpRequest) SetHeader(key, value string) {
	r.header.Set(key, value)
}

func (r *httpRequest) Header(key string) string {
	return r.header.Get(key)
}

func (r *httpRequest) SetProgressHandler(progress func(uint64)) {
	r.progress = progress
}

func (r *httpRequest) Send(ctx context.Context, body []byte) (Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.aborted {
		r.mu.Unlock()
		return nil, ErrRequestAborted
	}
	r.cancel = cancel
	r.mu.Unlock()

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = internal_io.NewProgressReader(internal_io.NewBytesNopCloser(body), r.progress)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header = r.header.Clone()
	req.ContentLength = int64(len(body))

	label := fmt.Sprintf("Url:%s", r.url)
	r.transport.dumpRequest(label, req)
	req = r.transport.traceRequest(label, req)

	resp, err := r.transport.client.Do(req)
	if err != nil {
		r.mu.Lock()
		aborted := r.aborted
		r.mu.Unlock()
		if aborted {
			return nil, fmt.Errorf("%w: %s", ErrRequestAborted, err)
		}
		return nil, err
	}
	defer resp.Body.Close()
	r.transport.dumpResponse(label, resp)

	respBody, err := internal_io.ReadAtMost(resp.Body, r.transport.maxResponseBodySize)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 && r.progress != nil {
		r.progress(uint64(len(body)))
	}
	return &httpResponse{statusCode: resp.StatusCode, header: resp.Header, body: string(respBody)}, nil
}

func (r *httpRequest) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.aborted = true
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

func (r *httpResponse) StatusCode() int {
	return r.statusCode
}

func (r *httpResponse) Header(key string) string {
	return r.header.Get(key)
}

func (r *httpResponse) Body() string {
	return r.body
}

func (t *httpTransport) dumpRequest(label string, req *http.Request) {
	if !t.printRequest && !t.printRequestDetail {
		return
	}
	dumped, err := httputil.DumpRequestOut(req, t.printRequestDetail)
	if err != nil {
		t.logger.WithError(err).Debug("failed to dump request")
		return
	}
	t.logger.Debug(label + " request:\n" + string(dumped))
}

func (t *httpTransport) dumpResponse(label string, resp *http.Response) {
	if !t.printRequest && !t.printRequestDetail {
		return
	}
	dumped, err := httputil.DumpResponse(resp, t.printRequestDetail)
	if err != nil {
		t.logger.WithError(err).Debug("failed to dump response")
		return
	}
	t.logger.Debug(label + " response:\n" + string(dumped))
}

func (t *httpTransport) traceRequest(label string, req *http.Request) *http.Request {
	if !t.printRequestTrace {
		return req
	}
	logger := t.logger.WithField("label", label)
	trace := &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			logger.Debugf("GetConn, %s", hostPort)
		},
		GotConn: func(connInfo httptrace.GotConnInfo) {
			remoteAddr := connInfo.Conn.RemoteAddr()
			logger.Debugf("GotConn, Network:%s RemoteAddr:%s Reused:%v", remoteAddr.Network(), remoteAddr.String(), connInfo.Reused)
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			logger.Debugf("DNSDone, addr:%+v", info.Addrs)
		},
		ConnectDone: func(network, addr string, err error) {
			logger.Debugf("ConnectDone, network:%s ip:%s err:%v", network, addr, err)
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			logger.Debugf("TLSHandshakeDone, version:%x err:%v", state.Version, err)
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			logger.Debugf("WroteRequest, err:%v", info.Err)
		},
		GotFirstResponseByte: func() {
			logger.Debug("GotFirstResponseByte")
		},
	}
	return req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
}
