// Package version holds build-time version info injected via ldflags and
// the bundle metadata format the update gate compares against.
//
// Build with:
//
//	go build -ldflags "-X github.com/wispvm/wisp/internal/version.version=1.4.0 \
//	  -X github.com/wispvm/wisp/internal/version.build=1717000000"
package version

import "strconv"

// version is set at build time via -ldflags.
var version = "dev"

// build is the build number, a Unix timestamp, set via -ldflags.
var build = "0"

// Version returns the build version string.
func Version() string {
	return version
}

// Build returns the numeric build number, or 0 when unset.
func Build() int64 {
	n, err := strconv.ParseInt(build, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Current returns this binary's build info.
func Current() BuildInfo {
	return BuildInfo{Version: version, Build: Build()}
}
