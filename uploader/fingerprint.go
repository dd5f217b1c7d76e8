package uploader

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFingerprint 默认的指纹函数
//
// 文件路径与 *os.File 使用绝对路径、大小与修改时间，[]byte 使用内容的 MD5，
// 其他输入无法计算指纹，返回空字符串。
func DefaultFingerprint(input interface{}, options *Options) (string, error) {
	var endpoint string
	if options != nil {
		endpoint = options.Endpoint
	}
	switch in := input.(type) {
	case []byte:
		sum := md5.Sum(in)
		return strings.Join([]string{"go-bytes", hex.EncodeToString(sum[:]), fmt.Sprint(len(in)), endpoint}, "-"), nil
	case string:
		info, err := os.Stat(in)
		if err != nil {
			return "", err
		}
		return fileFingerprint(in, info, endpoint)
	case *os.File:
		info, err := in.Stat()
		if err != nil {
			return "", err
		}
		if !info.Mode().IsRegular() {
			return "", nil
		}
		return fileFingerprint(in.Name(), info, endpoint)
	default:
		return "", nil
	}
}

func fileFingerprint(path string, info os.FileInfo, endpoint string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		"go-file",
		absPath,
		fmt.Sprint(info.Size()),
		fmt.Sprint(info.ModTime().UnixMilli()),
		endpoint,
	}, "-"), nil
}
