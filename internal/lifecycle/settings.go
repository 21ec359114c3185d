package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
)

// Settings holds user preferences the lifecycle guard consults. AutoStart
// is tri-state: nil leaves any installed launch agent untouched.
type Settings struct {
	AutoStart *bool `json:"auto_start,omitempty"`
}

// LoadSettings reads the settings file. A missing file is not an error; it
// returns the zero value, with every preference unset.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}
