// Package util provides small shared helpers.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindBinary locates an external binary. Resolution order:
//  1. explicit configured path, if non-empty
//  2. environment variable override (SNIPD_<NAME>_PATH)
//  3. ./<name> alongside the working directory
//  4. the system PATH
func FindBinary(name, configuredPath, envVar string) (string, error) {
	if configuredPath != "" {
		if isExecutable(configuredPath) {
			return configuredPath, nil
		}
		return "", fmt.Errorf("configured %s path is not executable: %s", name, configuredPath)
	}

	if envVar != "" {
		if path := os.Getenv(envVar); path != "" {
			if isExecutable(path) {
				return path, nil
			}
			return "", fmt.Errorf("%s from %s is not executable: %s", name, envVar, path)
		}
	}

	if local, err := filepath.Abs("./" + name); err == nil && isExecutable(local) {
		return local, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

// isExecutable reports whether the path is a regular file with an execute bit.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
