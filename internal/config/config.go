package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultPath is used when no --config flag or DBBACKUP_CONFIG is given.
const DefaultPath = "config.json"

// EnvPrefix prefixes env overrides of file keys, e.g. DBBACKUP_PG_PASSWORD.
const EnvPrefix = "DBBACKUP"

// ErrConfig marks configuration failures; they abort the run.
var ErrConfig = errors.New("config error")

// Config is the per-run configuration. File keys come from the JSON file
// (overridable by env); Azure and S3 settings come from the environment only.
type Config struct {
	DBType     string `mapstructure:"db_type"`
	PGHost     string `mapstructure:"pg_host"`
	PGPort     int    `mapstructure:"pg_port"`
	PGDBName   string `mapstructure:"pg_dbname"`
	PGUser     string `mapstructure:"pg_user"`
	PGPassword string `mapstructure:"pg_password"`
	SQLitePath string `mapstructure:"sqlite_path"`

	BackupDir  string `mapstructure:"backup_dir"`
	PGDumpPath string `mapstructure:"pg_dump_path"`

	Provider     string `mapstructure:"provider"`
	RemotePrefix string `mapstructure:"remote_prefix"`

	GDriveCredentialsFile string `mapstructure:"gdrive_credentials_file"`
	GDriveTokenFile       string `mapstructure:"gdrive_token_file"`
	GDriveAuthMode        string `mapstructure:"gdrive_auth_mode"` // installed|device|service_account
	GDriveFolderID        string `mapstructure:"gdrive_folder_id"`

	// FailOnUploadError turns an upload failure into a non-zero exit.
	// Off by default: historically a failed upload still ended the run normally.
	FailOnUploadError bool `mapstructure:"fail_on_upload_error"`

	Azure AzureConfig `mapstructure:"-"`
	S3    S3Config    `mapstructure:"-"`
}

type AzureConfig struct {
	Account   string
	Container string
	SASToken  string
	Endpoint  string

	ClientID     string
	ClientSecret string
	TenantID     string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Defaults returns the keys and values written to a fresh config file.
func Defaults() map[string]any {
	return map[string]any{
		"db_type":     "postgresql",
		"pg_host":     "localhost",
		"pg_port":     5432,
		"pg_dbname":   "hoteldb",
		"pg_user":     "admin",
		"pg_password": "admin123",
		"sqlite_path": "meubanco.db",

		"backup_dir":   "backups",
		"pg_dump_path": "pg_dump",

		"provider":      "gdrive",
		"remote_prefix": "",

		"gdrive_credentials_file": "credentials.json",
		"gdrive_token_file":       "token.json",
		"gdrive_auth_mode":        "installed",
		"gdrive_folder_id":        "",

		"fail_on_upload_error": false,
	}
}

// Load reads the JSON config at path. A missing file is first created with
// Defaults() so the operator has something to edit; malformed content is an
// ErrConfig and is not recovered.
func Load(path string, logger zerolog.Logger) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaults(path); err != nil {
			return Config{}, fmt.Errorf("%w: write default config %s: %v", ErrConfig, path, err)
		}
		logger.Info().Str("action", "config").Str("path", path).Msg("created default config file")
	} else if err != nil {
		return Config{}, fmt.Errorf("%w: stat %s: %v", ErrConfig, path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode %s: %v", ErrConfig, path, err)
	}

	cfg.DBType = strings.ToLower(strings.TrimSpace(cfg.DBType))
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.GDriveAuthMode = strings.ToLower(strings.TrimSpace(cfg.GDriveAuthMode))
	cfg.Azure = azureFromEnv()
	cfg.S3 = s3FromEnv()

	logger.Debug().
		Str("action", "config").
		Str("path", path).
		Str("db_type", cfg.DBType).
		Str("provider", cfg.Provider).
		Msg("config loaded")

	return cfg, nil
}

func writeDefaults(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	w := viper.New()
	w.SetConfigType("json")
	// Placeholder credentials live in this file until the operator edits it.
	w.SetConfigPermissions(0o600)
	for k, val := range Defaults() {
		w.Set(k, val)
	}
	return w.WriteConfigAs(path)
}

func azureFromEnv() AzureConfig {
	return AzureConfig{
		Account:      get("AZURE_STORAGE_ACCOUNT", ""),
		Container:    get("AZURE_STORAGE_CONTAINER", ""),
		SASToken:     get("AZURE_STORAGE_SAS", ""),
		Endpoint:     get("AZURE_BLOB_ENDPOINT", ""),
		ClientID:     get("AZURE_CLIENT_ID", ""),
		ClientSecret: get("AZURE_CLIENT_SECRET", ""),
		TenantID:     get("AZURE_TENANT_ID", ""),
	}
}

func s3FromEnv() S3Config {
	return S3Config{
		Bucket:          get("S3_BUCKET", ""),
		Region:          get("S3_REGION", ""),
		Endpoint:        get("S3_ENDPOINT", ""),
		AccessKeyID:     get("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: get("S3_SECRET_ACCESS_KEY", ""),
	}
}

func get(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}
