package configfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/qiniu/go-tus/internal/env"
)

// Profile 配置文件中的一个配置段
type Profile struct {
	Endpoint        string            `toml:"endpoint" yaml:"endpoint"`
	ChunkSize       string            `toml:"chunk_size" yaml:"chunk_size"`
	RetryDelays     []string          `toml:"retry_delays" yaml:"retry_delays"`
	RetryJitter     int               `toml:"retry_jitter" yaml:"retry_jitter"`
	ParallelUploads int               `toml:"parallel_uploads" yaml:"parallel_uploads"`
	StallTimeout    string            `toml:"stall_timeout" yaml:"stall_timeout"`
	Protocol        string            `toml:"protocol" yaml:"protocol"`
	StoreDir        string            `toml:"store_dir" yaml:"store_dir"`
	Headers         map[string]string `toml:"headers" yaml:"headers"`
	Debug           bool              `toml:"debug" yaml:"debug"`
}

var (
	profiles      map[string]*Profile
	profilesError error
	profilesOnce  sync.Once

	ErrInvalidDuration = errors.New("invalid duration")
)

// ProfileFromConfigFile 读取 TUS_PROFILE 指定的配置段，默认为 default
//
// 配置文件不存在时返回 nil, nil。
func ProfileFromConfigFile() (*Profile, error) {
	profilesOnce.Do(func() {
		configFilePath := env.ConfigFileFromEnvironment()
		if configFilePath == "" {
			configFilePath = getDefaultConfigFilePath()
		}
		profiles, profilesError = loadFile(configFilePath)
	})
	if profilesError != nil {
		return nil, profilesError
	}
	return lookup(profiles, env.ProfileFromEnvironment()), nil
}

func lookup(profiles map[string]*Profile, profileName string) *Profile {
	if profileName == "" {
		profileName = "default"
	}
	if profile, ok := profiles[profileName]; ok && profile != nil {
		return profile
	}
	return nil
}

func loadFile(configFilePath string) (map[string]*Profile, error) {
	var loaded map[string]*Profile
	switch strings.ToLower(filepath.Ext(configFilePath)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(configFilePath)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		} else if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configFilePath, err)
		}
	default:
		if _, err := toml.DecodeFile(configFilePath, &loaded); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configFilePath, err)
		}
	}
	return loaded, nil
}

func getDefaultConfigFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return filepath.Join(homeDir, ".tus", "config.toml")
}

// ChunkSizeInBytes 解析 chunk_size，支持 4MiB 之类的写法，未配置时返回 0
func (profile *Profile) ChunkSizeInBytes() (int64, error) {
	if profile.ChunkSize == "" {
		return 0, nil
	}
	return units.RAMInBytes(profile.ChunkSize)
}

func (profile *Profile) RetryDelayDurations() ([]time.Duration, error) {
	if profile.RetryDelays == nil {
		return nil, nil
	}
	delays := make([]time.Duration, 0, len(profile.RetryDelays))
	for _, value := range profile.RetryDelays {
		delay, err := time.ParseDuration(value)
		if err != nil || delay < 0 {
			return nil, fmt.Errorf("%w: retry_delays %q", ErrInvalidDuration, value)
		}
		delays = append(delays, delay)
	}
	return delays, nil
}

func (profile *Profile) StallTimeoutDuration() (time.Duration, error) {
	if profile.StallTimeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(profile.StallTimeout)
	if err != nil || timeout < 0 {
		return 0, fmt.Errorf("%w: stall_timeout %q", ErrInvalidDuration, profile.StallTimeout)
	}
	return timeout, nil
}
