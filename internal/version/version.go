package version

// Name is the binary name printed by the version command.
const Name = "dbbackup"

// Set with -ldflags "-X github.com/Chapsvision-dev/db-backup-uploader/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns "<version> (<commit>, built <date>)".
func Info() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}
