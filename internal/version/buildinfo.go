package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	hcversion "github.com/hashicorp/go-version"
)

// BuildInfo is the version metadata embedded in an app bundle, read by the
// update gate when scanning mounted volumes for newer builds.
type BuildInfo struct {
	// Version is the human-readable release string, e.g. "1.4.0".
	Version string `json:"version"`
	// Build is the build number, a Unix timestamp. Zero means unknown.
	Build int64 `json:"build"`
}

// buildInfoRelPath locates the metadata file inside a bundle.
const buildInfoRelPath = "Contents/Resources/buildinfo.json"

// ReadBundle reads the build metadata from an app bundle on disk.
func ReadBundle(bundlePath string) (BuildInfo, error) {
	data, err := os.ReadFile(filepath.Join(bundlePath, buildInfoRelPath))
	if err != nil {
		return BuildInfo{}, fmt.Errorf("read bundle metadata: %w", err)
	}
	var info BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return BuildInfo{}, fmt.Errorf("parse bundle metadata: %w", err)
	}
	return info, nil
}

// WriteBundle writes build metadata into a bundle, creating the resources
// directory. Used by the installer path and by tests constructing fixtures.
func WriteBundle(bundlePath string, info BuildInfo) error {
	path := filepath.Join(bundlePath, buildInfoRelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Newer reports whether candidate is strictly newer than installed.
//
// Build numbers compare as integers when both are known. When either is
// missing, the version strings compare as semantic versions; a string that
// does not parse as a version never wins.
func Newer(candidate, installed BuildInfo) bool {
	if candidate.Build > 0 && installed.Build > 0 {
		return candidate.Build > installed.Build
	}

	cv, err := hcversion.NewVersion(candidate.Version)
	if err != nil {
		return false
	}
	iv, err := hcversion.NewVersion(installed.Version)
	if err != nil {
		// Anything well-formed beats an unparseable install.
		return true
	}
	return cv.GreaterThan(iv)
}
