// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pointaudio/pointaudio/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the default configuration paths for the current operating system.
// If a config.yaml exists in one of them, only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "pointaudio"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "pointaudio"),
			"/etc/pointaudio",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// ResolvePath expands environment variables in path and, when relative,
// anchors it to the directory of the loaded config file.
func ResolvePath(path, configFile string) string {
	if path == "" {
		return ""
	}
	expanded := filepath.Clean(os.ExpandEnv(path))
	if filepath.IsAbs(expanded) || configFile == "" {
		return expanded
	}
	return filepath.Join(filepath.Dir(configFile), expanded)
}
