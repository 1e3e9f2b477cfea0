package version

import "fmt"

// These variables are set at build time via -ldflags
// Example: go build -ldflags "-X github.com/imMewtable/wakatime-bot/internal/version.Version=v0.3.0"
var (
	// Version is the semantic version of the bot
	Version = "dev"

	// Commit is the git commit hash
	Commit = "none"

	// BuildTime is the timestamp of the build
	BuildTime = "unknown"
)

// String formats all build details on one line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
