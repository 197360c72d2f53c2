package gdrive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/auth"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
)

// DefaultChunkSize is the resumable upload chunk. Artifacts that fit in one
// chunk go up in a single request; larger ones resume chunk by chunk.
const DefaultChunkSize = 8 << 20

type Provider struct {
	auth      auth.Provider
	folderID  string
	chunkSize int
	endpoint  string // empty means the public Drive endpoint
	logger    zerolog.Logger
}

func init() {
	provider.Register("gdrive", func(cfg config.Config, logger zerolog.Logger) (provider.Provider, error) {
		a, err := auth.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Provider{
			auth:      a,
			folderID:  strings.TrimSpace(cfg.GDriveFolderID),
			chunkSize: DefaultChunkSize,
			logger:    logger,
		}, nil
	})
}

func (p *Provider) Name() string { return "gdrive" }

// Upload authorizes, then creates a Drive file named after the artifact and
// returns its id.
func (p *Provider) Upload(ctx context.Context, a dump.Artifact) (string, error) {
	ts, err := p.auth.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrUpload, err)
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: drive client: %v", provider.ErrUpload, err)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrUpload, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Str("file", a.Path).Msg("failed to close source file after upload")
		}
	}()

	meta := &drive.File{
		Name:          a.Name,
		MimeType:      a.ContentType,
		AppProperties: map[string]string{"sha256": a.SHA256},
	}
	if p.folderID != "" {
		meta.Parents = []string{p.folderID}
	}

	start := time.Now()
	p.logger.Info().
		Str("action", "gdrive_upload").
		Str("name", a.Name).
		Int64("size", a.Size).
		Str("folder", p.folderID).
		Msg("uploading to Google Drive")

	created, err := srv.Files.Create(meta).
		Media(f, googleapi.ContentType(a.ContentType), googleapi.ChunkSize(p.chunkSize)).
		ProgressUpdater(func(current, total int64) {
			p.logger.Debug().Str("action", "gdrive_upload").Int64("sent", current).Int64("total", total).
				Msg("upload progress")
		}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		ev := p.logger.Error().Err(err).Str("action", "gdrive_upload").Str("name", a.Name).
			Dur("elapsed_ms", time.Since(start))
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			ev = ev.Int("status", gerr.Code)
		}
		ev.Msg("Google Drive upload error")
		return "", fmt.Errorf("%w: drive files.create: %v", provider.ErrUpload, err)
	}

	p.logger.Info().
		Str("action", "gdrive_upload").
		Str("name", a.Name).
		Str("file_id", created.Id).
		Dur("elapsed_ms", time.Since(start)).
		Msg("upload OK")
	return created.Id, nil
}
