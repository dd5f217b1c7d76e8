package uploader

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qiniu/go-tus/errors"
	httpclient "github.com/qiniu/go-tus/http_client"
	"github.com/qiniu/go-tus/retrier"
	resumablerecorder "github.com/qiniu/go-tus/uploader/resumable_recorder"
	"github.com/qiniu/go-tus/uploader/source"
)

const (
	contentTypeOffsetOctetStream = "application/offset+octet-stream"
	contentTypePartialUpload     = "application/partial-upload"
)

// 上传会话
//
// 一个 Upload 同一时间只能运行一次，Start 返回后上传在后台进行，通过 Wait 获取结果。
type Upload struct {
	input          interface{}
	options        Options
	retrierOptions *retrier.Options
	logger         logrus.FieldLogger
	aborted        atomic.Bool

	mu                 sync.Mutex
	running            bool
	done               chan struct{}
	err                error
	cancel             context.CancelFunc
	request            httpclient.Request
	src                source.Source
	url                string
	offset             uint64
	size               *uint64
	lengthDeferred     bool
	fingerprint        string
	urlStorageKey      string
	parallelUploadURLs []string
	parts              []*Upload
	partSources        []source.Source
	stallNoticeLogged  bool

	// 仅由运行上传的协程访问
	tracker retrier.Tracker
}

// 创建上传会话，input 由 Options.SourceOpener 转换为数据源
func NewUpload(input interface{}, options *Options) *Upload {
	if options == nil {
		options = &Options{}
	}
	upload := &Upload{input: input, options: options.withDefaults()}
	upload.retrierOptions = upload.options.retrierOptions()
	upload.logger = upload.options.Logger
	return upload
}

// 开始上传
//
// 参数校验失败时返回错误并调用 OnError，这类错误不会重试。校验通过后上传在后台进行。
func (upload *Upload) Start() error {
	upload.mu.Lock()
	if upload.running {
		upload.mu.Unlock()
		return errors.ValidationError{Message: "tus: upload is already running"}
	}
	var err error
	if upload.input == nil {
		err = errors.ValidationError{Message: "tus: no file or stream to upload provided"}
	} else {
		err = upload.options.validate(upload.url != "" || len(upload.parallelUploadURLs) > 0)
	}
	if err != nil {
		done := make(chan struct{})
		close(done)
		upload.done = done
		upload.err = err
		upload.mu.Unlock()
		if upload.options.OnError != nil {
			upload.options.OnError(err)
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	upload.aborted.Store(false)
	upload.running = true
	upload.cancel = cancel
	upload.done = make(chan struct{})
	upload.err = nil
	upload.mu.Unlock()

	go func() {
		defer cancel()
		resp, err := upload.execute(ctx)
		upload.finish(resp, err)
	}()
	return nil
}

// 等待上传结束，返回 nil 表示上传成功，上传被中止时返回 errors.ErrUploadAborted
func (upload *Upload) Wait(ctx context.Context) error {
	upload.mu.Lock()
	done := upload.done
	upload.mu.Unlock()
	if done == nil {
		return errors.ValidationError{Message: "tus: upload has not been started"}
	}

	select {
	case <-done:
		upload.mu.Lock()
		defer upload.mu.Unlock()
		return upload.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// 中止上传
//
// 正在进行的请求和等待中的重试会被立即取消，terminate 为 true 时还会删除服务端的上传及其记录。
func (upload *Upload) Abort(ctx context.Context, terminate bool) error {
	upload.aborted.Store(true)

	upload.mu.Lock()
	parts := upload.parts
	req := upload.request
	cancel := upload.cancel
	urls := make([]string, 0, len(upload.parallelUploadURLs)+1)
	for _, url := range upload.parallelUploadURLs {
		if url != "" {
			urls = append(urls, url)
		}
	}
	if upload.url != "" {
		urls = append(urls, upload.url)
	}
	upload.mu.Unlock()

	for _, part := range parts {
		part.Abort(ctx, false)
	}
	if req != nil {
		req.Abort()
	}
	if cancel != nil {
		cancel()
	}
	if !terminate || len(urls) == 0 {
		return nil
	}

	for _, url := range urls {
		if err := terminateUpload(ctx, url, &upload.options, upload.retrierOptions); err != nil {
			return err
		}
	}
	upload.removeFromURLStorage()
	return nil
}

// 查找当前输入之前保存的上传记录
func (upload *Upload) FindPreviousUploads() ([]*resumablerecorder.PreviousUpload, error) {
	fingerprint, err := upload.options.Fingerprint(upload.input, &upload.options)
	if err != nil {
		return nil, fmt.Errorf("tus: failed to calculate fingerprint: %w", err)
	}
	if fingerprint == "" {
		return nil, errors.ValidationError{Message: "tus: unable to calculate fingerprint for this input file"}
	}
	return upload.options.URLStorage.FindUploadsByFingerprint(fingerprint)
}

// 使用之前保存的上传记录，下次 Start 时将恢复该上传而不是重新创建
func (upload *Upload) ResumeFromPreviousUpload(previousUpload *resumablerecorder.PreviousUpload) {
	upload.mu.Lock()
	defer upload.mu.Unlock()

	upload.url = previousUpload.UploadURL
	upload.parallelUploadURLs = append([]string(nil), previousUpload.ParallelUploadURLs...)
	upload.urlStorageKey = previousUpload.URLStorageKey
}

// 上传地址，尚未创建时为空
func (upload *Upload) URL() string {
	upload.mu.Lock()
	defer upload.mu.Unlock()
	return upload.url
}

// 服务端已确认的偏移量
func (upload *Upload) Offset() uint64 {
	upload.mu.Lock()
	defer upload.mu.Unlock()
	return upload.offset
}

// 上传大小，延迟声明大小且尚未确定时返回 false
func (upload *Upload) Size() (uint64, bool) {
	upload.mu.Lock()
	defer upload.mu.Unlock()
	if upload.size == nil {
		return 0, false
	}
	return *upload.size, true
}

func (upload *Upload) execute(ctx context.Context) (httpclient.Response, error) {
	if err := upload.prepare(); err != nil {
		return nil, err
	}
	for {
		resp, err := upload.attempt(ctx)
		if err == nil {
			return resp, nil
		}
		if interrupted := upload.interrupted(ctx); interrupted != nil {
			return nil, interrupted
		}
		delay, ok := upload.tracker.Next(ctx, err, upload.Offset(), upload.retrierOptions)
		if !ok {
			return nil, err
		}
		upload.options.Metrics.IncRetries()
		upload.logger.WithFields(logrus.Fields{
			"url":     upload.URL(),
			"attempt": upload.tracker.Attempt,
			"delay":   delay,
		}).WithError(err).Warn("tus: retrying upload")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, upload.interrupted(ctx)
		case <-timer.C:
		}
	}
}

func (upload *Upload) interrupted(ctx context.Context) error {
	if upload.aborted.Load() {
		return errors.ErrUploadAborted
	}
	return ctx.Err()
}

// 计算指纹、打开数据源并确定上传大小，数据源在重试之间保持打开
func (upload *Upload) prepare() error {
	upload.mu.Lock()
	opened := upload.src != nil
	upload.mu.Unlock()
	if opened {
		return nil
	}

	fingerprint, err := upload.options.Fingerprint(upload.input, &upload.options)
	if err != nil {
		return fmt.Errorf("tus: failed to calculate fingerprint: %w", err)
	}
	if fingerprint == "" {
		upload.logger.Debug("tus: no fingerprint was calculated, the upload cannot be stored in the URL storage")
	}
	src, err := upload.options.SourceOpener.Open(upload.input, upload.options.ChunkSize)
	if err != nil {
		return err
	}

	var size *uint64
	switch {
	case upload.options.UploadLengthDeferred:
	case upload.options.UploadSize != nil:
		s := *upload.options.UploadSize
		size = &s
	default:
		s, ok := src.Size()
		if !ok {
			src.Close()
			return errors.ValidationError{Message: "tus: cannot automatically derive upload's size from input. Specify it manually using the `UploadSize` option or use the `UploadLengthDeferred` option"}
		}
		size = &s
	}

	upload.mu.Lock()
	defer upload.mu.Unlock()
	upload.fingerprint = fingerprint
	upload.src = src
	upload.size = size
	upload.lengthDeferred = upload.options.UploadLengthDeferred
	return nil
}

func (upload *Upload) attempt(ctx context.Context) (httpclient.Response, error) {
	if upload.aborted.Load() {
		return nil, errors.ErrUploadAborted
	}
	upload.mu.Lock()
	parallel := upload.options.ParallelUploads > 1 || len(upload.parallelUploadURLs) > 0
	url := upload.url
	upload.mu.Unlock()

	switch {
	case parallel:
		return upload.startParallel(ctx)
	case url != "":
		return upload.resume(ctx)
	case upload.options.UploadURL != "":
		upload.setURL(upload.options.UploadURL)
		return upload.resume(ctx)
	default:
		return upload.create(ctx)
	}
}

func (upload *Upload) create(ctx context.Context) (httpclient.Response, error) {
	endpoint := upload.options.Endpoint
	if endpoint == "" {
		return nil, errors.ValidationError{Message: "tus: unable to create upload because no endpoint is provided"}
	}
	req, err := openRequest(&upload.options, http.MethodPost, endpoint)
	if err != nil {
		return nil, err
	}

	upload.mu.Lock()
	size := upload.size
	upload.mu.Unlock()
	if size == nil {
		req.SetHeader("Upload-Defer-Length", "1")
	} else {
		req.SetHeader("Upload-Length", strconv.FormatUint(*size, 10))
	}
	if metadata := encodeMetadata(upload.options.Metadata); metadata != "" {
		req.SetHeader("Upload-Metadata", metadata)
	}

	withData := upload.options.UploadDataDuringCreation && size != nil
	var resp httpclient.Response
	if withData {
		upload.setOffset(0)
		resp, _, err = upload.sendChunk(ctx, req, "tus: failed to create the upload")
	} else {
		if upload.options.Protocol != ProtocolTusV1 {
			req.SetHeader("Upload-Complete", "?0")
		}
		resp, err = upload.send(ctx, req, nil, nil, "tus: failed to create the upload")
	}
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
	upload.logger.WithFields(logrus.Fields{"url": url}).Debug("tus: created upload")
	if upload.options.OnUploadURLAvailable != nil {
		upload.options.OnUploadURLAvailable(url)
	}

	if size != nil && *size == 0 {
		return resp, nil
	}
	upload.saveUploadInURLStorage()

	if withData {
		done, err := upload.handleUploadResponse(req, resp, nil)
		if err != nil {
			return nil, err
		} else if done {
			return resp, nil
		}
	} else {
		upload.setOffset(0)
	}
	return upload.uploadChunks(ctx)
}

func (upload *Upload) resume(ctx context.Context) (httpclient.Response, error) {
	url := upload.URL()
	req, err := openRequest(&upload.options, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	resp, err := upload.send(ctx, req, nil, nil, "tus: failed to resume upload")
	if err != nil {
		return nil, err
	}

	if statusCode := resp.StatusCode(); !inStatusCategory(statusCode, 200) {
		if statusCode == http.StatusLocked {
			return nil, newDetailedError("tus: upload is currently locked; retry later", nil, req, resp)
		}
		if inStatusCategory(statusCode, 400) {
			upload.removeFromURLStorage()
		}
		if upload.options.Endpoint == "" {
			return nil, newDetailedError("tus: unable to resume upload (new upload cannot be created without an endpoint)", nil, req, resp)
		}
		upload.logger.WithFields(logrus.Fields{"url": url, "status": statusCode}).Debug("tus: upload cannot be resumed, creating a new one")
		upload.setURL("")
		return upload.create(ctx)
	}

	offset, err := strconv.ParseUint(resp.Header("Upload-Offset"), 10, 64)
	if err != nil {
		return nil, newProtocolError("tus: invalid or missing offset value", req, resp)
	}
	length, lengthErr := strconv.ParseUint(resp.Header("Upload-Length"), 10, 64)
	upload.mu.Lock()
	lengthDeferred := upload.lengthDeferred
	upload.mu.Unlock()
	if lengthErr != nil && (!lengthDeferred || upload.options.Protocol == ProtocolTusV1) {
		return nil, newProtocolError("tus: invalid or missing length value", req, resp)
	}
	if lengthErr == nil && lengthDeferred {
		// 服务端已经知道上传大小
		upload.mu.Lock()
		upload.size = &length
		upload.lengthDeferred = false
		upload.mu.Unlock()
	}

	if upload.options.OnUploadURLAvailable != nil {
		upload.options.OnUploadURLAvailable(url)
	}
	upload.saveUploadInURLStorage()

	upload.logger.WithFields(logrus.Fields{"url": url, "offset": offset}).Debug("tus: resuming upload")
	if lengthErr == nil && offset == length {
		upload.emitProgress(length, &length)
		upload.setOffset(offset)
		return resp, nil
	}
	upload.setOffset(offset)
	return upload.uploadChunks(ctx)
}

// 从当前偏移量开始逐个发送分片，直到服务端确认全部数据
func (upload *Upload) uploadChunks(ctx context.Context) (httpclient.Response, error) {
	for {
		if upload.aborted.Load() {
			return nil, errors.ErrUploadAborted
		}
		method := http.MethodPatch
		if upload.options.OverridePatchMethod {
			method = http.MethodPost
		}
		req, err := openRequest(&upload.options, method, upload.URL())
		if err != nil {
			return nil, err
		}
		if upload.options.OverridePatchMethod {
			req.SetHeader("X-HTTP-Method-Override", http.MethodPatch)
		}
		offset := upload.Offset()
		req.SetHeader("Upload-Offset", strconv.FormatUint(offset, 10))

		resp, declaredSize, err := upload.sendChunk(ctx, req, fmt.Sprintf("tus: failed to upload chunk at offset %d", offset))
		if err != nil {
			return nil, err
		}
		if !inStatusCategory(resp.StatusCode(), 200) {
			return nil, newDetailedError("tus: unexpected response while uploading chunk", nil, req, resp)
		}
		done, err := upload.handleUploadResponse(req, resp, declaredSize)
		if err != nil {
			return nil, err
		}
		if done {
			return resp, nil
		}
	}
}

// 从数据源读取下一个分片并随请求发送
//
// 延迟声明大小时，最后一个分片会携带 Upload-Length，并返回声明的大小，
// 由调用方在服务端确认后再记录
func (upload *Upload) sendChunk(ctx context.Context, req httpclient.Request, failure string) (httpclient.Response, *uint64, error) {
	upload.mu.Lock()
	start := upload.offset
	size := upload.size
	lengthDeferred := upload.lengthDeferred
	src := upload.src
	upload.mu.Unlock()

	end := uint64(math.MaxUint64)
	if chunkSize := upload.options.ChunkSize; chunkSize > 0 && chunkSize <= math.MaxUint64-start {
		end = start + chunkSize
	}
	if !lengthDeferred && size != nil && end > *size {
		end = *size
	}

	if upload.options.Protocol == ProtocolIETFDraft05 {
		req.SetHeader("Content-Type", contentTypePartialUpload)
	} else {
		req.SetHeader("Content-Type", contentTypeOffsetOctetStream)
	}

	result, err := src.Slice(start, end)
	if err != nil {
		return nil, nil, err
	}
	var declaredSize *uint64
	newSize := start + uint64(len(result.Value))
	if lengthDeferred && result.Done {
		req.SetHeader("Upload-Length", strconv.FormatUint(newSize, 10))
		declaredSize = &newSize
		size = &newSize
	} else if result.Done && size != nil && newSize != *size {
		return nil, nil, errors.SizeMismatchError{Configured: *size, Actual: newSize}
	}
	if upload.options.Protocol != ProtocolTusV1 {
		if result.Done {
			req.SetHeader("Upload-Complete", "?1")
		} else {
			req.SetHeader("Upload-Complete", "?0")
		}
	}

	upload.emitProgress(start, size)
	resp, err := upload.send(ctx, req, result.Value, func(bytesSent uint64) {
		upload.emitProgress(start+bytesSent, size)
	}, failure)
	return resp, declaredSize, err
}

// 处理服务端确认的偏移量，返回上传是否已经完成
func (upload *Upload) handleUploadResponse(req httpclient.Request, resp httpclient.Response, declaredSize *uint64) (bool, error) {
	offset, err := strconv.ParseUint(resp.Header("Upload-Offset"), 10, 64)
	if err != nil {
		return false, newProtocolError("tus: invalid or missing offset value", req, resp)
	}

	upload.mu.Lock()
	if declaredSize != nil {
		upload.size = declaredSize
		upload.lengthDeferred = false
	}
	previous := upload.offset
	size := upload.size
	upload.offset = offset
	upload.mu.Unlock()

	var accepted uint64
	if offset > previous {
		accepted = offset - previous
	}
	upload.options.Metrics.AddUploadedBytes(accepted)
	upload.emitProgress(offset, size)
	if upload.options.OnChunkComplete != nil {
		upload.options.OnChunkComplete(accepted, offset, totalOf(size))
	}
	return size != nil && offset == *size, nil
}

// 发送请求，期间登记为可中止的请求，并在启用时进行停滞检测
func (upload *Upload) send(ctx context.Context, req httpclient.Request, body []byte, onProgress func(uint64), failure string) (httpclient.Response, error) {
	if upload.aborted.Load() {
		return nil, errors.ErrUploadAborted
	}

	var detector *stallDetector
	if len(body) > 0 && upload.options.StallDetection.Enabled {
		if upload.options.Transport.SupportsProgressEvents() {
			detector = newStallDetector(&upload.options.StallDetection, func(string) { req.Abort() })
		} else {
			upload.noticeStallDetectionUnsupported()
		}
	}
	req.SetProgressHandler(func(bytesSent uint64) {
		if detector != nil {
			detector.updateProgress()
		}
		if onProgress != nil {
			onProgress(bytesSent)
		}
	})

	upload.mu.Lock()
	upload.request = req
	upload.mu.Unlock()
	defer func() {
		upload.mu.Lock()
		upload.request = nil
		upload.mu.Unlock()
	}()

	if detector != nil {
		detector.start()
	}
	resp, err := sendRequest(ctx, &upload.options, req, body, failure)
	if detector != nil {
		detector.stop()
		if reason := detector.reason(); reason != "" && err != nil {
			upload.options.Metrics.IncStalls()
			upload.logger.WithFields(logrus.Fields{"url": req.URL(), "reason": reason}).Warn("tus: upload stalled")
			return nil, newDetailedError("tus: upload stalled: "+reason, nil, req, nil)
		}
	}
	return resp, err
}

func (upload *Upload) noticeStallDetectionUnsupported() {
	upload.mu.Lock()
	logged := upload.stallNoticeLogged
	upload.stallNoticeLogged = true
	upload.mu.Unlock()
	if !logged {
		upload.logger.Info("tus: stall detection is enabled but the HTTP stack does not support progress events, it will be disabled for this upload")
	}
}

func (upload *Upload) finish(resp httpclient.Response, err error) {
	switch {
	case err == nil:
		if upload.options.RemoveFingerprintOnSuccess {
			upload.removeFromURLStorage()
		}
		upload.closeSource()
		upload.options.Metrics.ObserveUpload("success")
		upload.logger.WithFields(logrus.Fields{"url": upload.URL()}).Debug("tus: upload finished")
		if upload.options.OnSuccess != nil {
			upload.options.OnSuccess(SuccessPayload{LastResponse: resp})
		}
	case upload.aborted.Load():
		err = errors.ErrUploadAborted
		upload.options.Metrics.ObserveUpload("aborted")
	default:
		upload.options.Metrics.ObserveUpload("failure")
		upload.logger.WithFields(logrus.Fields{"url": upload.URL()}).WithError(err).Warn("tus: upload failed")
		if upload.options.OnError != nil {
			upload.options.OnError(err)
		}
	}

	upload.mu.Lock()
	upload.err = err
	upload.running = false
	done := upload.done
	upload.mu.Unlock()
	close(done)
}

func (upload *Upload) closeSource() {
	upload.mu.Lock()
	src := upload.src
	upload.src = nil
	upload.partSources = nil
	upload.mu.Unlock()

	if src != nil {
		if err := src.Close(); err != nil {
			upload.logger.WithError(err).Debug("tus: failed to close source")
		}
	}
}

func (upload *Upload) emitProgress(bytesSent uint64, size *uint64) {
	if upload.options.OnProgress != nil {
		upload.options.OnProgress(bytesSent, totalOf(size))
	}
}

func (upload *Upload) setURL(url string) {
	upload.mu.Lock()
	upload.url = url
	upload.mu.Unlock()
}

func (upload *Upload) setOffset(offset uint64) {
	upload.mu.Lock()
	upload.offset = offset
	upload.mu.Unlock()
}

// 保存上传记录，每个会话最多保存一次
func (upload *Upload) saveUploadInURLStorage() {
	upload.mu.Lock()
	defer upload.mu.Unlock()

	if upload.options.DisableFingerprintStorage || upload.fingerprint == "" || upload.urlStorageKey != "" {
		return
	}
	record := &resumablerecorder.PreviousUpload{
		Metadata:     upload.options.Metadata,
		CreationTime: time.Now().UTC().Format(time.RFC3339),
	}
	if upload.size != nil {
		size := *upload.size
		record.Size = &size
	}
	if len(upload.parallelUploadURLs) > 0 {
		record.ParallelUploadURLs = append([]string(nil), upload.parallelUploadURLs...)
	} else {
		record.UploadURL = upload.url
	}
	key, err := upload.options.URLStorage.AddUpload(upload.fingerprint, record)
	if err != nil {
		upload.logger.WithError(err).Warn("tus: failed to store upload URL")
		return
	}
	upload.urlStorageKey = key
}

func (upload *Upload) removeFromURLStorage() {
	upload.mu.Lock()
	key := upload.urlStorageKey
	upload.urlStorageKey = ""
	upload.mu.Unlock()
	if key == "" {
		return
	}
	if err := upload.options.URLStorage.RemoveUpload(key); err != nil {
		upload.logger.WithError(err).WithField("key", key).Warn("tus: failed to remove upload URL")
	}
}

func totalOf(size *uint64) int64 {
	if size == nil {
		return -1
	}
	return int64(*size)
}
