package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/auth"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/pipeline"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
)

/* ----------------------------- test harness ----------------------------- */

type exitPanic struct{ code int }

func patchExit(t *testing.T) {
	t.Helper()
	prev := exit
	exit = func(code int) { panic(exitPanic{code}) }
	t.Cleanup(func() { exit = prev })
}

func mustExitCode(t *testing.T, fn func()) (code int) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected os.Exit interception, got no panic")
		}
		if ep, ok := r.(exitPanic); ok {
			code = ep.code
			return
		}
		t.Fatalf("unexpected panic: %#v", r)
	}()
	fn()
	return 0
}

func withArgs(t *testing.T, args []string) {
	t.Helper()
	prev := os.Args
	os.Args = append([]string{prev[0]}, args...)
	t.Cleanup(func() { os.Args = prev })
}

// stubSeams restores every seam after the test and routes logs to a buffer.
func stubSeams(t *testing.T) *bytes.Buffer {
	t.Helper()
	prevLogger, prevLoad, prevProducer := newLogger, loadConfig, newProducer
	prevProvider, prevAuth, prevRun := newProvider, newAuth, runPipeline
	t.Cleanup(func() {
		newLogger, loadConfig, newProducer = prevLogger, prevLoad, prevProducer
		newProvider, newAuth, runPipeline = prevProvider, prevAuth, prevRun
	})

	var buf bytes.Buffer
	newLogger = func() zerolog.Logger { return zerolog.New(&buf) }
	return &buf
}

func runArgs(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"dbbackup"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

/* ------------------------------- test fakes ------------------------------ */

type fileProducer struct {
	dir string
}

func (p fileProducer) Kind() string { return dump.KindSQLite }

func (p fileProducer) Produce(context.Context) (dump.Artifact, error) {
	path := filepath.Join(p.dir, "backup_2026-03-09.db")
	if err := os.WriteFile(path, []byte("0123456789"), 0o600); err != nil {
		return dump.Artifact{}, err
	}
	return dump.Artifact{Path: path, Name: filepath.Base(path), Size: 10}, nil
}

type stubProvider struct {
	err error
}

func (stubProvider) Name() string { return "stub" }

func (p stubProvider) Upload(_ context.Context, a dump.Artifact) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "remote/" + a.Name, nil
}

type stubAuth struct {
	err error
}

func (a stubAuth) Acquire(context.Context) (oauth2.TokenSource, error) {
	if a.err != nil {
		return nil, a.err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test"}), nil
}

/* --------------------------------- tests -------------------------------- */

func TestMain_VersionExitsZero(t *testing.T) {
	stubSeams(t)
	patchExit(t)
	withArgs(t, []string{"version"})

	code := mustExitCode(t, func() { main() })
	assert.Equal(t, 0, code)
}

func TestRun_Version(t *testing.T) {
	stubSeams(t)
	code, out, _ := runArgs("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "dbbackup dev")
}

func TestRun_UsageErrors(t *testing.T) {
	stubSeams(t)

	code, _, errOut := runArgs("restore")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, `unknown command "restore"`)

	code, _, _ = runArgs("--no-such-flag")
	assert.Equal(t, 2, code)
}

func TestBackup_ConfigPathFromFlagAndEnv(t *testing.T) {
	stubSeams(t)
	var got []string
	loadConfig = func(path string, _ zerolog.Logger) (config.Config, error) {
		got = append(got, path)
		return config.Config{}, fmt.Errorf("%w: stop", config.ErrConfig)
	}

	code, _, _ := runArgs("--config", "/etc/dbbackup/prod.json", "backup")
	assert.Equal(t, 1, code)

	t.Setenv("DBBACKUP_CONFIG", "from-env.json")
	code, _, _ = runArgs()
	assert.Equal(t, 1, code)

	assert.Equal(t, []string{"/etc/dbbackup/prod.json", "from-env.json"}, got)
}

func TestBackup_UnsupportedDBTypeAbortsBeforeDump(t *testing.T) {
	logs := stubSeams(t)
	loadConfig = func(string, zerolog.Logger) (config.Config, error) {
		return config.Config{DBType: "mysql", Provider: "gdrive", BackupDir: t.TempDir()}, nil
	}
	providerBuilt, pipelineRan := false, false
	newProvider = func(string, config.Config, zerolog.Logger) (provider.Provider, error) {
		providerBuilt = true
		return stubProvider{}, nil
	}
	runPipeline = func(context.Context, pipeline.Deps) (pipeline.Outcome, error) {
		pipelineRan = true
		return pipeline.Outcome{}, nil
	}

	code, _, errOut := runArgs()
	assert.Equal(t, 1, code)
	assert.False(t, providerBuilt)
	assert.False(t, pipelineRan)
	assert.Contains(t, errOut, "unsupported database type")
	assert.Contains(t, logs.String(), `"db_type":"mysql"`)
}

func TestBackup_MissingAppCredentialIsFatal(t *testing.T) {
	stubSeams(t)
	dir := t.TempDir()
	loadConfig = func(string, zerolog.Logger) (config.Config, error) {
		return config.Config{
			DBType:                dump.KindSQLite,
			SQLitePath:            filepath.Join(dir, "meubanco.db"),
			BackupDir:             filepath.Join(dir, "backups"),
			Provider:              "gdrive",
			GDriveCredentialsFile: filepath.Join(dir, "credentials.json"),
			GDriveTokenFile:       filepath.Join(dir, "token.json"),
			GDriveAuthMode:        auth.ModeInstalled,
		}, nil
	}
	pipelineRan := false
	runPipeline = func(context.Context, pipeline.Deps) (pipeline.Outcome, error) {
		pipelineRan = true
		return pipeline.Outcome{}, nil
	}

	code, _, errOut := runArgs("backup")
	assert.Equal(t, 1, code)
	assert.False(t, pipelineRan)
	assert.Contains(t, errOut, "credential")
	assert.NoDirExists(t, filepath.Join(dir, "backups"))
}

func TestBackup_UploadOutcomeExitCodes(t *testing.T) {
	cases := []struct {
		name      string
		uploadErr error
		failFlag  bool
		wantCode  int
		wantKept  bool
	}{
		{name: "success", wantCode: 0},
		{name: "upload failure tolerated", uploadErr: provider.ErrUpload, wantCode: 0, wantKept: true},
		{name: "upload failure fatal", uploadErr: provider.ErrUpload, failFlag: true, wantCode: 1, wantKept: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stubSeams(t)
			dir := t.TempDir()
			loadConfig = func(string, zerolog.Logger) (config.Config, error) {
				return config.Config{DBType: dump.KindSQLite, Provider: "stub", FailOnUploadError: tc.failFlag}, nil
			}
			newProducer = func(config.Config, zerolog.Logger) (dump.Producer, error) {
				return fileProducer{dir: dir}, nil
			}
			newProvider = func(string, config.Config, zerolog.Logger) (provider.Provider, error) {
				return stubProvider{err: tc.uploadErr}, nil
			}

			code, _, _ := runArgs()
			assert.Equal(t, tc.wantCode, code)
			artifact := filepath.Join(dir, "backup_2026-03-09.db")
			if tc.wantKept {
				assert.FileExists(t, artifact)
			} else {
				assert.NoFileExists(t, artifact)
			}
		})
	}
}

func TestBackup_DumpFailureExitsOne(t *testing.T) {
	stubSeams(t)
	loadConfig = func(string, zerolog.Logger) (config.Config, error) {
		return config.Config{DBType: dump.KindSQLite, Provider: "stub"}, nil
	}
	newProvider = func(string, config.Config, zerolog.Logger) (provider.Provider, error) {
		return stubProvider{}, nil
	}
	runPipeline = func(context.Context, pipeline.Deps) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, fmt.Errorf("%w: sqlite database not found", dump.ErrDump)
	}

	code, _, errOut := runArgs()
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "dump failed")
}

func TestAuth_Command(t *testing.T) {
	stubSeams(t)
	loadConfig = func(string, zerolog.Logger) (config.Config, error) { return config.Config{}, nil }

	newAuth = func(config.Config, zerolog.Logger) (auth.Provider, error) { return stubAuth{}, nil }
	code, out, _ := runArgs("auth")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "authorization OK")

	newAuth = func(config.Config, zerolog.Logger) (auth.Provider, error) {
		return stubAuth{err: fmt.Errorf("%w: consent: access_denied", auth.ErrAuth)}, nil
	}
	code, _, _ = runArgs("auth")
	assert.Equal(t, 1, code)

	newAuth = func(config.Config, zerolog.Logger) (auth.Provider, error) {
		return nil, errors.New("credentials.json: " + auth.ErrMissingAppCredential.Error())
	}
	code, _, _ = runArgs("auth")
	assert.Equal(t, 1, code)
}

func TestRun_LogsCarryRunID(t *testing.T) {
	logs := stubSeams(t)
	loadConfig = func(string, zerolog.Logger) (config.Config, error) {
		return config.Config{}, fmt.Errorf("%w: bad json", config.ErrConfig)
	}

	code, _, _ := runArgs()
	assert.Equal(t, 1, code)
	assert.Contains(t, logs.String(), `"run_id":"`)
	assert.Contains(t, logs.String(), "config error")
}

func TestWithSignals_CancelsOnInterrupt(t *testing.T) {
	ctx := withSignals(context.Background())

	// Send SIGINT after a short delay to ensure signal.Notify has been registered.
	time.AfterFunc(100*time.Millisecond, func() {
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(os.Interrupt)
	})

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after os.Interrupt")
	}

	signal.Reset(os.Interrupt)
}
