package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/go-tus/metrics"
)

func TestCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := metrics.NewCollector(registry)

	c.ObserveRequest("PATCH", 204)
	c.ObserveRequest("PATCH", 204)
	c.ObserveRequest("HEAD", 0)
	c.AddUploadedBytes(7)
	c.AddUploadedBytes(4)
	c.IncRetries()
	c.IncStalls()
	c.ObserveUpload("success")

	count, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	expected := `
# HELP tus_client_requests_total Number of HTTP requests sent, partitioned by method and response code.
# TYPE tus_client_requests_total counter
tus_client_requests_total{code="204",method="PATCH"} 2
tus_client_requests_total{code="none",method="HEAD"} 1
# HELP tus_client_uploaded_bytes_total Number of bytes accepted by the server.
# TYPE tus_client_uploaded_bytes_total counter
tus_client_uploaded_bytes_total 11
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"tus_client_requests_total", "tus_client_uploaded_bytes_total"))
}

func TestNilCollector(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.ObserveRequest("POST", 201)
		c.AddUploadedBytes(1)
		c.IncRetries()
		c.IncStalls()
		c.ObserveUpload("failure")
	})
}
