package version

var (
	// Version is the semantic version of the alertengine binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent is sent by outbound HTTP collaborators.
func UserAgent() string {
	return "alertengine/" + Version
}
