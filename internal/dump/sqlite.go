package dump

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// FileBacked snapshots an embedded SQLite database by copying its file.
type FileBacked struct {
	Source string
	Dir    string
	Logger zerolog.Logger
	Now    func() time.Time
}

func (p *FileBacked) Kind() string { return KindSQLite }

// Produce copies Source to backup_<date>.db. The copy is written to a .tmp
// sibling and renamed, so a failed copy never leaves a half-written artifact.
func (p *FileBacked) Produce(ctx context.Context) (Artifact, error) {
	now := nowFunc(p.Now)
	out, err := prepare(p.Dir, now, ".db")
	if err != nil {
		return Artifact{}, err
	}

	info, err := os.Stat(p.Source)
	if err != nil {
		p.Logger.Error().Err(err).Str("action", "sqlite_copy").Str("source", p.Source).
			Msg("SQLite database not found")
		return Artifact{}, fmt.Errorf("%w: sqlite database not found: %s", ErrDump, p.Source)
	}
	if info.IsDir() {
		return Artifact{}, fmt.Errorf("%w: sqlite path is a directory: %s", ErrDump, p.Source)
	}

	start := time.Now()
	p.Logger.Info().Str("action", "sqlite_copy").Str("source", p.Source).Str("local", out).
		Msg("starting SQLite backup")

	if err := copyFile(ctx, p.Source, out, info); err != nil {
		p.Logger.Error().Err(err).Str("action", "sqlite_copy").Str("local", out).
			Msg("SQLite backup failed")
		return Artifact{}, fmt.Errorf("%w: copy %s: %v", ErrDump, p.Source, err)
	}

	a, err := describe(out, now)
	if err != nil {
		return Artifact{}, err
	}
	p.Logger.Info().
		Str("action", "sqlite_copy").
		Str("local", a.Path).
		Int64("size", a.Size).
		Str("sha256", a.SHA256).
		Dur("elapsed_ms", time.Since(start)).
		Msg("SQLite backup completed successfully")
	return a, nil
}

// copyFile copies bytes, mode and modification time from src to dst.
func copyFile(ctx context.Context, src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, readerCtx{ctx: ctx, r: in}); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, info.Mode().Perm()); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// readerCtx stops a long copy once the run is cancelled.
type readerCtx struct {
	ctx context.Context
	r   io.Reader
}

func (r readerCtx) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
