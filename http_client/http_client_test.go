package http_client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/go-tus/http_client"
)

func TestTransportSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "1.0.0", r.Header.Get("Tus-Resumable"))
		assert.Equal(t, int64(11), r.ContentLength)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "hello world", string(body))
		w.Header().Set("Upload-Offset", "11")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	transport := http_client.NewTransport(&http_client.Options{PrintRequest: true, PrintRequestTrace: true})
	require.True(t, transport.SupportsProgressEvents())

	req, err := transport.CreateRequest(http.MethodPatch, server.URL+"/files/abc")
	require.NoError(t, err)
	req.SetHeader("Tus-Resumable", "1.0.0")
	assert.Equal(t, "1.0.0", req.Header("Tus-Resumable"))
	assert.Equal(t, http.MethodPatch, req.Method())
	assert.Equal(t, server.URL+"/files/abc", req.URL())

	var lastProgress uint64
	req.SetProgressHandler(func(bytesSent uint64) {
		atomic.StoreUint64(&lastProgress, bytesSent)
	})
	resp, err := req.Send(context.Background(), []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())
	assert.Equal(t, "11", resp.Header("Upload-Offset"))
	assert.Equal(t, uint64(11), atomic.LoadUint64(&lastProgress))
}

func TestTransportSendWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, int64(0), r.ContentLength)
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "denied")
	}))
	defer server.Close()

	req, err := http_client.NewTransport(nil).CreateRequest(http.MethodHead, server.URL)
	require.NoError(t, err)
	resp, err := req.Send(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())
}

func TestTransportAbort(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	req, err := http_client.NewTransport(nil).CreateRequest(http.MethodPost, server.URL)
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		req.Abort()
	}()
	_, err = req.Send(context.Background(), []byte("data"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, http_client.ErrRequestAborted))

	_, err = req.Send(context.Background(), nil)
	assert.ErrorIs(t, err, http_client.ErrRequestAborted)
}
