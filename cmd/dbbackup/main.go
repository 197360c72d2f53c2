package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/auth"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/logx"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/pipeline"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/version"

	_ "github.com/Chapsvision-dev/db-backup-uploader/internal/provider/azure"
	_ "github.com/Chapsvision-dev/db-backup-uploader/internal/provider/gdrive"
	_ "github.com/Chapsvision-dev/db-backup-uploader/internal/provider/s3"
)

// Test seams, overridden in unit tests.
var (
	newLogger   = func() zerolog.Logger { return logx.New(logx.FromEnv()) }
	loadConfig  = config.Load
	newProducer = dump.New
	newProvider = provider.New
	newAuth     = auth.New
	runPipeline = pipeline.Run
	exit        = os.Exit
)

// Exit codes: 0 success, 1 runtime error, 2 usage error.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// main wires CLI -> config -> producer -> provider -> pipeline.
func main() {
	exit(run(withSignals(context.Background()), os.Args, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var logger zerolog.Logger

	app := &cli.App{
		Name:      version.Name,
		Usage:     "dump a PostgreSQL or SQLite database and upload it to cloud storage",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"DBBACKUP_CONFIG"},
				Value:   config.DefaultPath,
				Usage:   "path to the JSON config (created with defaults if missing)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before anything else (optional)",
			},
		},
		Before: func(c *cli.Context) error {
			_ = godotenv.Load(c.String("env-file")) // best-effort
			logger = newLogger().With().Str("run_id", uuid.NewString()).Logger()
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				_ = cli.ShowAppHelp(c)
				return cli.Exit(fmt.Sprintf("unknown command %q", c.Args().First()), exitUsage)
			}
			return backup(c.Context, c.String("config"), logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "backup",
				Usage: "dump the configured database and upload it (default)",
				Action: func(c *cli.Context) error {
					return backup(c.Context, c.String("config"), logger)
				},
			},
			{
				Name:  "auth",
				Usage: "authorize Google Drive access and store the token",
				Action: func(c *cli.Context) error {
					return authorize(c.Context, c.String("config"), logger, stdout)
				},
			},
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(c *cli.Context) error {
					_, _ = fmt.Fprintf(stdout, "%s %s\n", version.Name, version.Info())
					return nil
				},
			},
		},
		// Exit codes are mapped below instead of cli calling os.Exit.
		ExitErrHandler: func(*cli.Context, error) {},
	}

	err := app.RunContext(ctx, args)
	if err == nil {
		return exitOK
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if msg := ec.Error(); msg != "" {
			_, _ = fmt.Fprintln(stderr, msg)
		}
		return ec.ExitCode()
	}
	// Flag parsing errors; cli already printed the details.
	_, _ = fmt.Fprintln(stderr, err)
	return exitUsage
}

func backup(ctx context.Context, cfgPath string, logger zerolog.Logger) error {
	cfg, err := loadConfig(cfgPath, logger)
	if err != nil {
		logger.Error().Err(err).Str("config", cfgPath).Msg("config error")
		return cli.Exit(err.Error(), exitFailure)
	}

	producer, err := newProducer(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_type", cfg.DBType).Msg("unsupported database type")
		return cli.Exit(err.Error(), exitFailure)
	}

	// Missing credentials surface here, before anything is dumped.
	p, err := newProvider(cfg.Provider, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("provider", cfg.Provider).Msg("provider init error")
		return cli.Exit(err.Error(), exitFailure)
	}

	out, err := runPipeline(ctx, pipeline.Deps{
		Producer:          producer,
		Provider:          p,
		Logger:            logger,
		FailOnUploadError: cfg.FailOnUploadError,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if !out.Uploaded {
		logger.Warn().Str("file", out.Artifact.Path).Msg("backup kept locally; upload it manually or rerun")
	}
	return nil
}

func authorize(ctx context.Context, cfgPath string, logger zerolog.Logger, stdout io.Writer) error {
	cfg, err := loadConfig(cfgPath, logger)
	if err != nil {
		logger.Error().Err(err).Str("config", cfgPath).Msg("config error")
		return cli.Exit(err.Error(), exitFailure)
	}
	a, err := newAuth(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("credentials", cfg.GDriveCredentialsFile).Msg("auth init error")
		return cli.Exit(err.Error(), exitFailure)
	}
	ts, err := a.Acquire(ctx)
	if err == nil {
		_, err = ts.Token()
	}
	if err != nil {
		logger.Error().Err(err).Str("action", "auth").Msg("authorization failed")
		return cli.Exit(err.Error(), exitFailure)
	}
	_, _ = fmt.Fprintln(stdout, "Google Drive authorization OK")
	return nil
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}
