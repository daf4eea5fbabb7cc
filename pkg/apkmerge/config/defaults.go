// Package config provides configuration management for apkmerge.
package config

import "time"

// Default configuration values for apkmerge.
const (
	// DefaultOutputPattern names the merged APK when -o is not given.
	// %s is replaced with the current time as HHMMSS.
	DefaultOutputPattern = "merged_%s.apk"

	// DefaultFormat is the report format.
	DefaultFormat = "plain"

	// DefaultRetentionDays is how long merge history is kept.
	DefaultRetentionDays = 30

	// DefaultADBPath is the adb executable looked up on PATH.
	DefaultADBPath = "adb"

	// DefaultDeviceTimeout bounds a single adb invocation.
	DefaultDeviceTimeout = 2 * time.Minute

	// DefaultVdexExtractor is the vdex extraction tool looked up on PATH.
	DefaultVdexExtractor = "vdexExtractor"

	// DefaultCdexExtractor is the compact dex conversion tool looked up on PATH.
	DefaultCdexExtractor = "cdexExtractor"

	// DefaultLogLevel is the file log level.
	DefaultLogLevel = "info"

	// DefaultLogMaxSize is the size at which the log file rotates.
	DefaultLogMaxSize = "10MB"
)
