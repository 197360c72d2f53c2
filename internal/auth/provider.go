package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
)

// Auth modes for gdrive_auth_mode.
const (
	ModeInstalled      = "installed"
	ModeDevice         = "device"
	ModeServiceAccount = "service_account"
)

// Scope limits access to files this application creates.
const Scope = drive.DriveFileScope

var (
	// ErrMissingAppCredential is fatal: nothing can be authorized without it.
	ErrMissingAppCredential = errors.New("application credential file not found")
	// ErrAuth covers consent and refresh failures.
	ErrAuth = errors.New("authorization failed")
)

// Provider hands out a token source for the Drive API.
type Provider interface {
	Acquire(ctx context.Context) (oauth2.TokenSource, error)
}

// New reads the application credential and selects the flow for
// cfg.GDriveAuthMode. The credential file must exist in every mode.
func New(cfg config.Config, logger zerolog.Logger) (Provider, error) {
	path := strings.TrimSpace(cfg.GDriveCredentialsFile)
	if path == "" {
		path = "credentials.json"
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: download an OAuth client (or service account key) from the Google Cloud Console and save it there",
			ErrMissingAppCredential, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read application credential %s: %w", path, err)
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.GDriveAuthMode))
	if mode == "" {
		mode = ModeInstalled
	}
	logger = logger.With().Str("auth_mode", mode).Logger()

	switch mode {
	case ModeInstalled, ModeDevice:
		conf, err := google.ConfigFromJSON(data, Scope)
		if err != nil {
			return nil, fmt.Errorf("parse application credential %s: %w", path, err)
		}
		var consent Consenter
		if mode == ModeDevice {
			if conf.Endpoint.DeviceAuthURL == "" {
				conf.Endpoint.DeviceAuthURL = google.Endpoint.DeviceAuthURL
			}
			consent = &DeviceConsent{Out: os.Stderr}
		} else {
			consent = &LoopbackConsent{Out: os.Stderr, OpenBrowser: browser.OpenURL}
		}
		logger.Debug().Str("action", "auth_new").Str("credentials", path).Msg("auth provider selected")
		return &UserFlow{
			Config:  conf,
			Store:   &TokenStore{Path: tokenPath(cfg)},
			Consent: consent,
			Logger:  logger,
		}, nil

	case ModeServiceAccount:
		jc, err := google.JWTConfigFromJSON(data, Scope)
		if err != nil {
			return nil, fmt.Errorf("parse service account key %s: %w", path, err)
		}
		logger.Debug().Str("action", "auth_new").Str("client_email", jc.Email).Msg("auth provider selected")
		return &serviceAccount{jwt: jc, logger: logger}, nil

	default:
		return nil, errors.New("unsupported gdrive auth mode: " + mode)
	}
}

func tokenPath(cfg config.Config) string {
	if p := strings.TrimSpace(cfg.GDriveTokenFile); p != "" {
		return p
	}
	return "token.json"
}
