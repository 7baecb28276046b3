package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Common timeout durations
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultSendTimeout    = 5 * time.Second
)

// WriteJSONFile writes a JSON object to a file, creating parent directories if needed.
func WriteJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadJSONFile reads a JSON file into v. Missing files are not an error;
// the target is left untouched and ok is false.
func ReadJSONFile(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}
