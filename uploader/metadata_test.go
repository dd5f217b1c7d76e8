package uploader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMetadata(t *testing.T) {
	assert.Empty(t, encodeMetadata(nil))
	assert.Equal(t, "filename aGVsbG8udHh0,filetype dGV4dC9wbGFpbg==,is_confidential ,size MTE=",
		encodeMetadata(map[string]string{"filetype": "text/plain", "filename": "hello.txt", "is_confidential": "", "size": "11"}))
}

func TestResolveURL(t *testing.T) {
	testCases := []struct{ origin, link, expected string }{
		{"http://tus.example.com/files/", "/files/1", "http://tus.example.com/files/1"},
		{"http://tus.example.com/files/", "1", "http://tus.example.com/files/1"},
		{"https://tus.example.com/files/", "//cdn.example.com/files/1", "https://cdn.example.com/files/1"},
		{"http://tus.example.com/files/", "http://other.example.com/uploads/1", "http://other.example.com/uploads/1"},
	}
	for _, tc := range testCases {
		resolved, err := resolveURL(tc.origin, tc.link)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, resolved)
	}
}

func TestSplitSizeIntoParts(t *testing.T) {
	assert.Equal(t, []Part{{0, 3}, {3, 6}, {6, 11}}, splitSizeIntoParts(11, 3))
	assert.Equal(t, []Part{{0, 11}}, splitSizeIntoParts(11, 1))

	parts := splitSizeIntoParts(1000, 7)
	var total uint64
	for i, part := range parts {
		if i > 0 {
			assert.Equal(t, parts[i-1].End, part.Start)
		}
		total += part.End - part.Start
	}
	assert.Equal(t, uint64(1000), total)
}

func TestDefaultFingerprint(t *testing.T) {
	options := &Options{Endpoint: "http://tus.example.com/files/"}

	fingerprint, err := DefaultFingerprint([]byte("hello world"), options)
	require.NoError(t, err)
	assert.Equal(t, "go-bytes-5eb63bbbe01eeed093cb22bb8f5acdc3-11-http://tus.example.com/files/", fingerprint)

	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0600))
	fingerprint, err = DefaultFingerprint(path, options)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fingerprint, "go-file-"+path+"-11-"))
	assert.True(t, strings.HasSuffix(fingerprint, "-http://tus.example.com/files/"))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	fromFile, err := DefaultFingerprint(file, options)
	require.NoError(t, err)
	assert.Equal(t, fingerprint, fromFile)

	fingerprint, err = DefaultFingerprint(strings.NewReader("hello world"), options)
	require.NoError(t, err)
	assert.Empty(t, fingerprint)

	_, err = DefaultFingerprint(filepath.Join(t.TempDir(), "missing"), options)
	assert.Error(t, err)
}
