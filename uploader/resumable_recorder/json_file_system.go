package resumablerecorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type jsonFileSystemResumableRecorder struct {
	filePath string
}

// 创建基于 JSON 文件的可恢复记录仪
//
// 所有记录保存在同一个文件中，读写时对 filePath + ".lock" 加文件锁，可以在多个进程间共享。
func NewJsonFileSystemResumableRecorder(filePath string) ResumableRecorder {
	return jsonFileSystemResumableRecorder{filePath}
}

func (frr jsonFileSystemResumableRecorder) FindAllUploads() ([]*PreviousUpload, error) {
	return frr.find(keyPrefix)
}

func (frr jsonFileSystemResumableRecorder) FindUploadsByFingerprint(fingerprint string) ([]*PreviousUpload, error) {
	return frr.find(FingerprintPrefix(fingerprint))
}

func (frr jsonFileSystemResumableRecorder) RemoveUpload(urlStorageKey string) error {
	return frr.update(func(uploads map[string]*PreviousUpload) error {
		delete(uploads, urlStorageKey)
		return nil
	})
}

func (frr jsonFileSystemResumableRecorder) AddUpload(fingerprint string, upload *PreviousUpload) (key string, err error) {
	err = frr.update(func(uploads map[string]*PreviousUpload) error {
		key = NewURLStorageKey(fingerprint)
		stored := cloneUpload(upload)
		stored.URLStorageKey = key
		uploads[key] = stored
		return nil
	})
	return
}

func (frr jsonFileSystemResumableRecorder) find(prefix string) ([]*PreviousUpload, error) {
	if _, err := os.Stat(frr.filePath); errors.Is(err, os.ErrNotExist) {
		return []*PreviousUpload{}, nil
	}
	lock := flock.New(frr.lockPath())
	if err := lock.RLock(); err != nil {
		return nil, err
	}
	defer lock.Unlock()

	all, err := frr.load()
	if err != nil {
		return nil, err
	}
	uploads := make([]*PreviousUpload, 0, len(all))
	for key, upload := range all {
		if hasFingerprintPrefix(key, prefix) {
			upload.URLStorageKey = key
			uploads = append(uploads, upload)
		}
	}
	sortUploads(uploads)
	return uploads, nil
}

func (frr jsonFileSystemResumableRecorder) update(fn func(map[string]*PreviousUpload) error) error {
	if err := os.MkdirAll(filepath.Dir(frr.filePath), 0700); err != nil {
		return err
	}
	lock := flock.New(frr.lockPath())
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	uploads, err := frr.load()
	if err != nil {
		return err
	}
	if err = fn(uploads); err != nil {
		return err
	}
	return frr.save(uploads)
}

func (frr jsonFileSystemResumableRecorder) load() (map[string]*PreviousUpload, error) {
	uploads := make(map[string]*PreviousUpload)
	file, err := os.Open(frr.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return uploads, nil
	} else if err != nil {
		return nil, err
	}
	defer file.Close()

	if info, err := file.Stat(); err != nil {
		return nil, err
	} else if info.Size() == 0 {
		return uploads, nil
	}
	if err = json.NewDecoder(file).Decode(&uploads); err != nil {
		return nil, fmt.Errorf("tus: failed to decode url storage %s: %w", frr.filePath, err)
	}
	return uploads, nil
}

func (frr jsonFileSystemResumableRecorder) save(uploads map[string]*PreviousUpload) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(frr.filePath), filepath.Base(frr.filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	if err = json.NewEncoder(tmpFile).Encode(uploads); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err = tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, frr.filePath)
}

func (frr jsonFileSystemResumableRecorder) lockPath() string {
	return frr.filePath + ".lock"
}
