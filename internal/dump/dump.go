package dump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/util"
)

const (
	KindPostgreSQL = "postgresql"
	KindSQLite     = "sqlite"

	// ContentType is sent as the remote object's media type for every artifact.
	ContentType = "application/octet-stream"

	dateLayout = "2006-01-02"
)

var (
	// ErrDump marks a failed snapshot (subprocess exit, missing source, copy error).
	ErrDump = errors.New("dump failed")
	// ErrUnsupported is returned by New for an unknown db_type.
	ErrUnsupported = errors.New("unsupported database type")
)

// Artifact is one snapshot file on local disk.
type Artifact struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
	SHA256      string
	CreatedAt   time.Time
}

// Producer produces a snapshot file for one database.
type Producer interface {
	Produce(ctx context.Context) (Artifact, error)
	Kind() string
}

// New selects the producer for cfg.DBType. Nothing touches the disk before
// the type is known to be supported.
func New(cfg config.Config, logger zerolog.Logger) (Producer, error) {
	dir := strings.TrimSpace(cfg.BackupDir)
	if dir == "" {
		dir = "backups"
	}
	logger = logger.With().Str("db_type", cfg.DBType).Logger()

	switch cfg.DBType {
	case KindPostgreSQL:
		return &ServerBacked{
			Binary:   cfg.PGDumpPath,
			Host:     cfg.PGHost,
			Port:     cfg.PGPort,
			User:     cfg.PGUser,
			Database: cfg.PGDBName,
			Password: cfg.PGPassword,
			Dir:      dir,
			Logger:   logger,
		}, nil
	case KindSQLite:
		return &FileBacked{
			Source: cfg.SQLitePath,
			Dir:    dir,
			Logger: logger,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, cfg.DBType)
	}
}

// ArtifactName is backup_<YYYY-MM-DD><ext>; same-day runs share the name.
func ArtifactName(t time.Time, ext string) string {
	return fmt.Sprintf("backup_%s%s", t.Format(dateLayout), ext)
}

// prepare ensures dir exists and returns the destination path for today's artifact.
func prepare(dir string, now time.Time, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create backup dir %q: %v", ErrDump, dir, err)
	}
	return filepath.Join(dir, ArtifactName(now, ext)), nil
}

// describe stats and hashes the finished file.
func describe(path string, createdAt time.Time) (Artifact, error) {
	d, err := util.DigestFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: checksum %s: %v", ErrDump, path, err)
	}
	return Artifact{
		Path:        path,
		Name:        filepath.Base(path),
		ContentType: ContentType,
		Size:        d.Size,
		SHA256:      d.SHA256,
		CreatedAt:   createdAt,
	}, nil
}

func nowFunc(f func() time.Time) time.Time {
	if f != nil {
		return f()
	}
	return time.Now()
}
