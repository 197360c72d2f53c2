package provider

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
)

// ErrUpload marks a failed remote transfer. The run reports it but keeps the artifact.
var ErrUpload = errors.New("upload failed")

// Provider defines the contract for remote storage backends.
type Provider interface {
	// Upload stores the artifact as a new remote object and returns its identifier.
	Upload(ctx context.Context, a dump.Artifact) (string, error)

	// Name returns the provider identifier (e.g. "gdrive", "azure", "s3").
	Name() string
}

// ObjectKey joins the configured prefix and the artifact name with forward slashes.
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
