package env

import (
	"os"
	"strings"
)

const (
	environmentVariableNameTusEndpoint   = "TUS_ENDPOINT"
	environmentVariableNameTusConfigFile = "TUS_CONFIG_FILE"
	environmentVariableNameTusProfile    = "TUS_PROFILE"
	environmentVariableNameTusDebug      = "TUS_DEBUG"
)

func EndpointFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameTusEndpoint))
}

func ConfigFileFromEnvironment() string {
	return os.Getenv(environmentVariableNameTusConfigFile)
}

func ProfileFromEnvironment() string {
	return os.Getenv(environmentVariableNameTusProfile)
}

// 第二个返回值表示环境变量是否被设置
func DebugFromEnvironment() (bool, bool) {
	value := strings.ToLower(os.Getenv(environmentVariableNameTusDebug))
	if value == "" {
		return false, false
	}
	return value == "true" || value == "yes" || value == "y" || value == "1", true
}
