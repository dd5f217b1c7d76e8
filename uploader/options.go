package uploader

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/qiniu/go-tus/backoff"
	"github.com/qiniu/go-tus/errors"
	httpclient "github.com/qiniu/go-tus/http_client"
	"github.com/qiniu/go-tus/metrics"
	"github.com/qiniu/go-tus/retrier"
	resumablerecorder "github.com/qiniu/go-tus/uploader/resumable_recorder"
	"github.com/qiniu/go-tus/uploader/source"
)

// 上传协议
type Protocol string

const (
	// tus 1.0.0
	ProtocolTusV1 Protocol = "tus-v1"

	// IETF resumable upload draft 03（interop version 5）
	ProtocolIETFDraft03 Protocol = "ietf-draft-03"

	// IETF resumable upload draft 05（interop version 6）
	ProtocolIETFDraft05 Protocol = "ietf-draft-05"
)

const tagName = "validate"

var defaultRetryDelays = []time.Duration{0, time.Second, 3 * time.Second, 5 * time.Second}

type (
	// 上传选项
	Options struct {
		// 创建上传的地址
		Endpoint string `validate:"omitempty,url"`

		// 已经创建的上传地址，设置后直接恢复该上传
		UploadURL string `validate:"omitempty,url"`

		// 上传元数据，通过 Upload-Metadata 发送
		Metadata map[string]string

		// 并行上传时每个分段的元数据
		MetadataForPartialUploads map[string]string

		// 计算指纹的函数，默认为 DefaultFingerprint，返回空字符串表示无法恢复
		Fingerprint func(input interface{}, options *Options) (string, error)

		// 上传大小，为空则从数据源获取
		UploadSize *uint64

		// 上传进度回调，bytesTotal 为 -1 表示大小未知
		OnProgress func(bytesSent uint64, bytesTotal int64)

		// 分片完成回调
		OnChunkComplete func(chunkSize, bytesAccepted uint64, bytesTotal int64)

		// 上传成功回调
		OnSuccess func(SuccessPayload)

		// 上传失败回调，中止上传不会触发
		OnError func(error)

		// 上传地址可用时的回调
		OnUploadURLAvailable func(url string)

		// 使用 POST 和 X-HTTP-Method-Override 代替 PATCH
		OverridePatchMethod bool

		// 附加到每个请求的 HTTP 头
		Headers map[string]string

		// 为每个请求生成 X-Request-ID
		AddRequestID bool

		// 请求发送前的回调，返回错误将使本次请求失败
		OnBeforeRequest func(httpclient.Request) error

		// 收到响应后的回调，返回错误将使本次请求失败
		OnAfterResponse func(httpclient.Request, httpclient.Response) error

		// 自定义重试判断，设置后其结果具有最终决定权
		OnShouldRetry func(err error, retryAttempt int, options *Options) bool

		// 判断网络是否连通，默认视为连通
		IsOnline func() bool

		// 分片大小，0 表示不分片
		ChunkSize uint64

		// 重试前的等待时长，为 nil 时使用默认值 [0, 1s, 3s, 5s]
		RetryDelays []time.Duration

		// 禁止重试
		DisableRetries bool

		// 如果设置，则由其计算重试等待时长
		Backoff backoff.Backoff `validate:"-"`

		// 重试等待时长的随机抖动百分比，仅在未设置 Backoff 时生效
		RetryJitter int `validate:"gte=0,lte=100"`

		// 并行上传的分段数，默认为 1
		ParallelUploads int `validate:"gte=0"`

		// 自定义的分段边界，数量必须与 ParallelUploads 一致
		ParallelUploadBoundaries []Part

		// 不将上传地址保存到 URLStorage
		DisableFingerprintStorage bool

		// 上传成功后从 URLStorage 删除记录
		RemoveFingerprintOnSuccess bool

		// 延迟声明上传大小
		UploadLengthDeferred bool

		// 在创建上传的请求中携带第一个分片
		UploadDataDuringCreation bool

		// 保存上传地址的存储，默认不保存
		URLStorage resumablerecorder.ResumableRecorder `validate:"-"`

		// 将输入转换为数据源，默认为 source.NewDefaultOpener()
		SourceOpener source.Opener `validate:"-"`

		// HTTP 栈，默认基于 net/http
		Transport httpclient.Transport `validate:"-"`

		// 上传协议，默认为 tus-v1
		Protocol Protocol

		// 停滞检测
		StallDetection StallDetection

		// 日志，默认输出到标准错误
		Logger logrus.FieldLogger `validate:"-"`

		// 输出调试日志
		Debug bool

		// Prometheus 指标
		Metrics *metrics.Collector `validate:"-"`
	}

	// 停滞检测选项
	StallDetection struct {
		Enabled bool

		// 检查间隔，默认为 1 秒
		CheckInterval time.Duration `validate:"gte=0"`

		// 超过该时长没有进度即视为停滞，默认为 30 秒
		StallTimeout time.Duration `validate:"gte=0"`
	}

	// 并行上传的分段，左闭右开
	Part struct {
		Start uint64
		End   uint64
	}

	// 上传成功的结果
	SuccessPayload struct {
		LastResponse httpclient.Response
	}
)

var (
	optionsValidator     *validator.Validate
	optionsValidatorOnce sync.Once
)

func (options *Options) withDefaults() Options {
	opts := *options
	if opts.Protocol == "" {
		opts.Protocol = ProtocolTusV1
	}
	if opts.DisableRetries {
		opts.RetryDelays = nil
	} else if opts.RetryDelays == nil {
		opts.RetryDelays = append([]time.Duration(nil), defaultRetryDelays...)
	}
	if opts.Backoff == nil && opts.RetryJitter > 0 && len(opts.RetryDelays) > 0 {
		opts.Backoff = backoff.NewJitteredBackoff(backoff.NewDelaysBackoff(opts.RetryDelays), opts.RetryJitter)
	}
	if opts.ParallelUploads == 0 {
		opts.ParallelUploads = 1
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = DefaultFingerprint
	}
	if opts.URLStorage == nil {
		opts.URLStorage = resumablerecorder.NewDummyResumableRecorder()
	}
	if opts.SourceOpener == nil {
		opts.SourceOpener = source.NewDefaultOpener()
	}
	if opts.StallDetection.CheckInterval == 0 {
		opts.StallDetection.CheckInterval = time.Second
	}
	if opts.StallDetection.StallTimeout == 0 {
		opts.StallDetection.StallTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = newLogger(opts.Debug)
	}
	if opts.Transport == nil {
		opts.Transport = httpclient.NewTransport(&httpclient.Options{
			Logger:       opts.Logger,
			PrintRequest: opts.Debug,
		})
	}
	return opts
}

func (options *Options) retrierOptions() *retrier.Options {
	retrierOptions := &retrier.Options{
		RetryDelays: options.RetryDelays,
		Backoff:     options.Backoff,
		IsOnline:    options.IsOnline,
	}
	if onShouldRetry := options.OnShouldRetry; onShouldRetry != nil {
		retrierOptions.OnShouldRetry = func(err error, retryAttempt int, _ *retrier.Options) bool {
			return onShouldRetry(err, retryAttempt, options)
		}
	}
	return retrierOptions
}

func (options *Options) validate(hasURL bool) error {
	switch options.Protocol {
	case ProtocolTusV1, ProtocolIETFDraft03, ProtocolIETFDraft05:
	default:
		return errors.ValidationError{Message: "tus: unsupported protocol " + string(options.Protocol)}
	}
	if options.Endpoint == "" && options.UploadURL == "" && !hasURL {
		return errors.ValidationError{Message: "tus: neither an endpoint or an upload URL is provided"}
	}
	if options.ParallelUploads > 1 {
		for _, conflict := range []struct {
			name string
			set  bool
		}{
			{"UploadURL", options.UploadURL != ""},
			{"UploadSize", options.UploadSize != nil},
			{"UploadLengthDeferred", options.UploadLengthDeferred},
		} {
			if conflict.set {
				return errors.ValidationError{Message: "tus: cannot use the `" + conflict.name + "` option when `ParallelUploads` is enabled"}
			}
		}
	}
	if len(options.ParallelUploadBoundaries) > 0 {
		if options.ParallelUploads <= 1 {
			return errors.ValidationError{Message: "tus: cannot use the `ParallelUploadBoundaries` option when `ParallelUploads` is disabled"}
		}
		if len(options.ParallelUploadBoundaries) != options.ParallelUploads {
			return errors.ValidationError{Message: "tus: the `ParallelUploadBoundaries` must have the same length as the value of `ParallelUploads`"}
		}
	}

	optionsValidatorOnce.Do(func() {
		optionsValidator = validator.New()
		optionsValidator.SetTagName(tagName)
	})
	if err := optionsValidator.Struct(options); err != nil {
		return errors.ValidationError{Message: "tus: invalid options: " + err.Error()}
	}
	return nil
}

func newLogger(debug bool) logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
