package resumablerecorder

type dummyResumableRecorder struct{}

// 创建假的可恢复记录仪
func NewDummyResumableRecorder() ResumableRecorder {
	return dummyResumableRecorder{}
}

func (dummyResumableRecorder) FindAllUploads() ([]*PreviousUpload, error) {
	return nil, nil
}

func (dummyResumableRecorder) FindUploadsByFingerprint(string) ([]*PreviousUpload, error) {
	return nil, nil
}

func (dummyResumableRecorder) RemoveUpload(string) error {
	return nil
}

func (dummyResumableRecorder) AddUpload(string, *PreviousUpload) (string, error) {
	return "", nil
}
