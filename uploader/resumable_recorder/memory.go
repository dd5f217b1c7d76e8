package resumablerecorder

import (
	"sort"
	"sync"
)

type memoryResumableRecorder struct {
	uploads map[string]PreviousUpload
	m       sync.Mutex
}

// 创建内存中的可恢复记录仪，进程退出后记录丢失
func NewMemoryResumableRecorder() ResumableRecorder {
	return &memoryResumableRecorder{uploads: make(map[string]PreviousUpload)}
}

func (mrr *memoryResumableRecorder) FindAllUploads() ([]*PreviousUpload, error) {
	return mrr.find(keyPrefix), nil
}

func (mrr *memoryResumableRecorder) FindUploadsByFingerprint(fingerprint string) ([]*PreviousUpload, error) {
	return mrr.find(FingerprintPrefix(fingerprint)), nil
}

func (mrr *memoryResumableRecorder) RemoveUpload(urlStorageKey string) error {
	mrr.m.Lock()
	defer mrr.m.Unlock()

	delete(mrr.uploads, urlStorageKey)
	return nil
}

func (mrr *memoryResumableRecorder) AddUpload(fingerprint string, upload *PreviousUpload) (string, error) {
	mrr.m.Lock()
	defer mrr.m.Unlock()

	key := NewURLStorageKey(fingerprint)
	stored := cloneUpload(upload)
	stored.URLStorageKey = key
	mrr.uploads[key] = *stored
	return key, nil
}

func (mrr *memoryResumableRecorder) find(prefix string) []*PreviousUpload {
	mrr.m.Lock()
	defer mrr.m.Unlock()

	uploads := make([]*PreviousUpload, 0)
	for key, upload := range mrr.uploads {
		if hasFingerprintPrefix(key, prefix) {
			uploads = append(uploads, cloneUpload(&upload))
		}
	}
	sortUploads(uploads)
	return uploads
}

func cloneUpload(upload *PreviousUpload) *PreviousUpload {
	cloned := *upload
	if upload.Size != nil {
		size := *upload.Size
		cloned.Size = &size
	}
	if upload.Metadata != nil {
		cloned.Metadata = make(map[string]string, len(upload.Metadata))
		for k, v := range upload.Metadata {
			cloned.Metadata[k] = v
		}
	}
	if upload.ParallelUploadURLs != nil {
		cloned.ParallelUploadURLs = append([]string(nil), upload.ParallelUploadURLs...)
	}
	return &cloned
}

func sortUploads(uploads []*PreviousUpload) {
	sort.SliceStable(uploads, func(i, j int) bool {
		if uploads[i].CreationTime != uploads[j].CreationTime {
			return uploads[i].CreationTime < uploads[j].CreationTime
		}
		return uploads[i].URLStorageKey < uploads[j].URLStorageKey
	})
}
