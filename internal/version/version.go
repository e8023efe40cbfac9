package version

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Service is the name reported by the health endpoint.
const Service = "croplens"

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}
