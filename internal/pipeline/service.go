package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
)

// ErrUpload is returned by Run when the upload failed and the caller asked
// for that to be fatal.
var ErrUpload = errors.New("backup upload failed")

// Deps wires one run.
type Deps struct {
	Producer dump.Producer
	Provider provider.Provider
	Logger   zerolog.Logger

	// FailOnUploadError turns an upload failure into ErrUpload. Off by
	// default: the artifact stays on disk and the run still succeeds.
	FailOnUploadError bool

	// Remove deletes the local artifact after upload (default os.Remove).
	Remove func(path string) error
}

// Outcome reports what a run did.
type Outcome struct {
	Artifact  dump.Artifact
	RemoteID  string
	Uploaded  bool
	CleanedUp bool
}

// Run produces a snapshot, uploads it and removes the local copy once the
// upload has succeeded. Only a dump failure (or, when asked for, an upload
// failure) is returned as an error.
func Run(ctx context.Context, d Deps) (Outcome, error) {
	var out Outcome
	log := d.Logger
	remove := d.Remove
	if remove == nil {
		remove = os.Remove
	}

	start := time.Now()
	log.Info().Str("action", "run").Str("db_type", d.Producer.Kind()).
		Str("provider", d.Provider.Name()).Msg("starting database backup process")

	a, err := d.Producer.Produce(ctx)
	if err != nil {
		log.Error().Err(err).Str("action", "dump").Msg("database dump failed")
		return out, err
	}
	out.Artifact = a

	upStart := time.Now()
	id, err := d.Provider.Upload(ctx, a)
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "upload").
			Str("file", a.Path).
			Dur("elapsed_ms", time.Since(upStart)).
			Msg("Backup upload failed; local file kept")
		if d.FailOnUploadError {
			return out, fmt.Errorf("%w: %w", ErrUpload, err)
		}
		log.Warn().Str("action", "run").Dur("elapsed_ms", time.Since(start)).
			Msg("backup process completed without upload")
		return out, nil
	}
	out.RemoteID, out.Uploaded = id, true
	log.Info().
		Str("action", "upload").
		Str("file", a.Name).
		Str("remote_id", id).
		Dur("elapsed_ms", time.Since(upStart)).
		Msg("Backup uploaded successfully")

	if err := remove(a.Path); err != nil {
		log.Error().Err(err).Str("action", "cleanup").Str("file", a.Path).Msg("Error deleting local backup")
	} else {
		out.CleanedUp = true
		log.Info().Str("action", "cleanup").Str("file", a.Path).Msg("Local backup file deleted")
	}

	log.Info().Str("action", "run").Dur("elapsed_ms", time.Since(start)).
		Msg("backup process completed successfully")
	return out, nil
}
