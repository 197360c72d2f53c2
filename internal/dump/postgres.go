package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServerBacked dumps a PostgreSQL database with pg_dump.
type ServerBacked struct {
	Binary   string // default "pg_dump"
	Host     string
	Port     int
	User     string
	Database string
	Password string
	Dir      string
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (p *ServerBacked) Kind() string { return KindPostgreSQL }

// Args returns the pg_dump argument list. It never contains the password.
func (p *ServerBacked) Args(out string) []string {
	return []string{
		"-h", p.Host,
		"-p", strconv.Itoa(p.Port),
		"-U", p.User,
		"-d", p.Database,
		"-f", out,
	}
}

// Env returns the child environment: the parent's plus PGPASSWORD when set.
func (p *ServerBacked) Env() []string {
	env := os.Environ()
	if p.Password != "" {
		env = append(env, "PGPASSWORD="+p.Password)
	}
	return env
}

// Produce runs pg_dump into backup_<date>.sql. A non-zero exit removes any
// partial output and returns ErrDump with the tool's stderr.
func (p *ServerBacked) Produce(ctx context.Context) (Artifact, error) {
	now := nowFunc(p.Now)
	out, err := prepare(p.Dir, now, ".sql")
	if err != nil {
		return Artifact{}, err
	}

	bin := strings.TrimSpace(p.Binary)
	if bin == "" {
		bin = "pg_dump"
	}

	cmd := exec.CommandContext(ctx, bin, p.Args(out)...)
	cmd.Env = p.Env()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	p.Logger.Info().
		Str("action", "pg_dump").
		Str("host", p.Host).
		Int("port", p.Port).
		Str("database", p.Database).
		Str("local", out).
		Msg("starting PostgreSQL backup")

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		p.Logger.Error().
			Err(err).
			Str("action", "pg_dump").
			Str("stderr", msg).
			Dur("elapsed_ms", time.Since(start)).
			Msg("PostgreSQL backup failed")
		if rmErr := os.Remove(out); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.Logger.Warn().Err(rmErr).Str("file", out).Msg("failed to remove partial dump")
		}
		if msg != "" {
			return Artifact{}, fmt.Errorf("%w: pg_dump: %v: %s", ErrDump, err, msg)
		}
		return Artifact{}, fmt.Errorf("%w: pg_dump: %v", ErrDump, err)
	}

	a, err := describe(out, now)
	if err != nil {
		return Artifact{}, err
	}
	p.Logger.Info().
		Str("action", "pg_dump").
		Str("local", a.Path).
		Int64("size", a.Size).
		Str("sha256", a.SHA256).
		Dur("elapsed_ms", time.Since(start)).
		Msg("PostgreSQL backup completed successfully")
	return a, nil
}
