package resumablerecorder

import (
	"strings"

	"github.com/google/uuid"
)

type (
	// PreviousUpload 可恢复的上传记录
	PreviousUpload struct {
		// 上传大小，延迟声明大小的上传为 nil
		Size *uint64 `json:"size"`

		// 创建上传时的元数据
		Metadata map[string]string `json:"metadata"`

		// 创建时间
		CreationTime string `json:"creationTime"`

		// 上传地址，并行上传时为空
		UploadURL string `json:"uploadUrl,omitempty"`

		// 并行上传时各个分段的上传地址
		ParallelUploadURLs []string `json:"parallelUploadUrls,omitempty"`

		// 记录在存储中的键
		URLStorageKey string `json:"urlStorageKey"`
	}

	// 可恢复记录仪接口
	ResumableRecorder interface {
		// 列出所有记录
		FindAllUploads() ([]*PreviousUpload, error)

		// 按指纹查找记录
		FindUploadsByFingerprint(fingerprint string) ([]*PreviousUpload, error)

		// 删除记录
		RemoveUpload(urlStorageKey string) error

		// 保存记录，返回记录的键
		AddUpload(fingerprint string, upload *PreviousUpload) (string, error)
	}
)

const keyPrefix = "tus::"

// NewURLStorageKey 为指纹生成新的记录键
func NewURLStorageKey(fingerprint string) string {
	return keyPrefix + fingerprint + "::" + uuid.NewString()
}

// FingerprintPrefix 返回属于该指纹的所有记录键的公共前缀
func FingerprintPrefix(fingerprint string) string {
	return keyPrefix + fingerprint + "::"
}

func hasFingerprintPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}
