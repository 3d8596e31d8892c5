package media

import (
	"fmt"
	"os"
	"path/filepath"
)

// validateFile checks that a capture file exists, is a regular non-empty file
// and can be opened. It returns the absolute path.
func validateFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no file configured")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: file does not exist", path)
		}
		return "", fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return "", fmt.Errorf("%s: is a directory", path)
	}

	if stat.Size() == 0 {
		return "", fmt.Errorf("%s: file is empty", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	return absPath, nil
}
