package uploader

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qiniu/go-tus/errors"
	httpclient "github.com/qiniu/go-tus/http_client"
	"github.com/qiniu/go-tus/uploader/source"
)

// 汇总各个分段的进度
type parallelProgress struct {
	mu        sync.Mutex
	total     uint64
	partSizes []uint64
}

// 将 totalSize 平均分为 partCount 段，最后一段包含余数
func splitSizeIntoParts(totalSize uint64, partCount int) []Part {
	partSize := totalSize / uint64(partCount)
	parts := make([]Part, 0, partCount)
	for i := 0; i < partCount; i++ {
		parts = append(parts, Part{
			Start: partSize * uint64(i),
			End:   partSize * uint64(i+1),
		})
	}
	parts[partCount-1].End = totalSize
	return parts
}

func (upload *Upload) startParallel(ctx context.Context) (httpclient.Response, error) {
	upload.mu.Lock()
	size := upload.size
	partCount := upload.options.ParallelUploads
	if len(upload.parallelUploadURLs) > 0 {
		partCount = len(upload.parallelUploadURLs)
	}
	upload.mu.Unlock()

	if size == nil {
		return nil, errors.ValidationError{Message: "tus: cannot use parallel uploads without a known upload size"}
	}
	endpoint := upload.options.Endpoint
	if endpoint == "" {
		return nil, errors.ValidationError{Message: "tus: cannot concatenate parallel uploads without an endpoint"}
	}
	parts := upload.options.ParallelUploadBoundaries
	if len(parts) != partCount {
		parts = splitSizeIntoParts(*size, partCount)
	}
	sources, err := upload.openPartSources(parts)
	if err != nil {
		return nil, err
	}

	progress := &parallelProgress{partSizes: make([]uint64, len(parts))}
	children := make([]*Upload, len(parts))
	upload.mu.Lock()
	if len(upload.parallelUploadURLs) != len(parts) {
		urls := make([]string, len(parts))
		copy(urls, upload.parallelUploadURLs)
		upload.parallelUploadURLs = urls
	}
	for i, part := range parts {
		children[i] = upload.newPartUpload(i, part, sources[i], *size, progress)
	}
	upload.parts = children
	upload.mu.Unlock()
	if upload.aborted.Load() {
		return nil, errors.ErrUploadAborted
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return child.runPart(gctx)
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	upload.mu.Lock()
	urls := append([]string(nil), upload.parallelUploadURLs...)
	upload.mu.Unlock()

	req, err := openRequest(&upload.options, http.MethodPost, endpoint)
	if err != nil {
		return nil, err
	}
	req.SetHeader("Upload-Concat", "final;"+strings.Join(urls, " "))
	if metadata := encodeMetadata(upload.options.Metadata); metadata != "" {
		req.SetHeader("Upload-Metadata", metadata)
	}
	resp, err := upload.send(ctx, req, nil, nil, "tus: failed to concatenate parallel uploads")
	if err != nil {
		return nil, err
	}
	if !inStatusCategory(resp.StatusCode(), 200) {
		return nil, newDetailedError("tus: unexpected response while creating upload", nil, req, resp)
	}
	location := resp.Header("Location")
	if location == "" {
		return nil, newProtocolError("tus: invalid or missing Location header", req, resp)
	}
	url, err := resolveURL(endpoint, location)
	if err != nil {
		return nil, newProtocolError("tus: invalid or missing Location header", req, resp)
	}
	upload.setURL(url)
	upload.logger.WithFields(logrus.Fields{"url": url, "parts": len(urls)}).Debug("tus: concatenated parallel uploads")
	return resp, nil
}

// 为每个分段准备数据源，可随机访问的数据源直接截取，否则按顺序读出分段数据
func (upload *Upload) openPartSources(parts []Part) ([]source.Source, error) {
	upload.mu.Lock()
	defer upload.mu.Unlock()

	if len(upload.partSources) == len(parts) {
		return upload.partSources, nil
	}
	sources := make([]source.Source, len(parts))
	sectioner, seekable := upload.src.(source.Sectioner)
	for i, part := range parts {
		if seekable {
			sources[i] = sectioner.Section(part.Start, part.End)
			continue
		}
		result, err := upload.src.Slice(part.Start, part.End)
		if err != nil {
			return nil, err
		}
		sources[i] = source.NewBytesSource(result.Value)
	}
	upload.partSources = sources
	return sources, nil
}

// 创建分段上传，调用时需持有 upload.mu
func (upload *Upload) newPartUpload(index int, part Part, src source.Source, totalSize uint64, progress *parallelProgress) *Upload {
	options := upload.options
	options.UploadURL = upload.parallelUploadURLs[index]
	options.Metadata = upload.options.MetadataForPartialUploads
	options.Headers = make(map[string]string, len(upload.options.Headers)+1)
	for key, value := range upload.options.Headers {
		options.Headers[key] = value
	}
	options.Headers["Upload-Concat"] = "partial"
	options.ParallelUploads = 1
	options.ParallelUploadBoundaries = nil
	options.DisableFingerprintStorage = true
	options.RemoveFingerprintOnSuccess = false
	options.UploadLengthDeferred = false
	options.OnSuccess = nil
	options.OnError = nil
	options.OnProgress = func(bytesSent uint64, _ int64) {
		progress.mu.Lock()
		defer progress.mu.Unlock()
		progress.total = progress.total - progress.partSizes[index] + bytesSent
		progress.partSizes[index] = bytesSent
		upload.emitProgress(progress.total, &totalSize)
	}
	options.OnUploadURLAvailable = func(url string) {
		upload.partURLAvailable(index, url)
	}
	size := part.End - part.Start
	options.UploadSize = &size

	child := &Upload{
		input:   src,
		options: options,
		logger:  upload.logger.WithField("part", index),
		src:     src,
		size:    &size,
	}
	child.retrierOptions = child.options.retrierOptions()
	return child
}

func (upload *Upload) partURLAvailable(index int, url string) {
	upload.mu.Lock()
	upload.parallelUploadURLs[index] = url
	complete := true
	for _, partURL := range upload.parallelUploadURLs {
		if partURL == "" {
			complete = false
			break
		}
	}
	upload.mu.Unlock()

	if complete {
		upload.saveUploadInURLStorage()
	}
}

// 在 ctx 下运行分段上传，ctx 被取消时正在进行的请求随之取消
func (upload *Upload) runPart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	upload.mu.Lock()
	upload.cancel = cancel
	upload.mu.Unlock()

	// 分段的数据源由父上传关闭
	_, err := upload.execute(ctx)
	return err
}
