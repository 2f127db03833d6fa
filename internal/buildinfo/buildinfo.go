// Package buildinfo exposes the version metadata stamped into the hubd
// binary at link time.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Stamped via -ldflags on release builds; a binary built without them
// reports a development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Field is one version attribute.
type Field struct {
	Key   string
	Value string
}

// Fields returns build and runtime metadata in display order, so the
// version command and its JSON form always agree on content.
func Fields() []Field {
	return []Field{
		{"version", Version},
		{"git_commit", GitCommit},
		{"git_branch", GitBranch},
		{"build_time", BuildTime},
		{"go_version", runtime.Version()},
		{"os", runtime.GOOS},
		{"arch", runtime.GOARCH},
		{"uptime", Uptime().String()},
	}
}

// Uptime reports how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is the one-line startup banner.
func String() string {
	return fmt.Sprintf("krypin %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
