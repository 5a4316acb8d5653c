package util

import (
	"fmt"
	"os"
)

// CheckDirectory reports whether path exists and is a directory. A missing
// path is not an error.
func CheckDirectory(path string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// EnsureDirectory creates path if it is missing and fails when it names
// something other than a directory.
func EnsureDirectory(path string) error {
	exists, isDir, err := CheckDirectory(path)
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}
	if exists && !isDir {
		return fmt.Errorf("%s is not a directory", path)
	}
	if !exists {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil
}
