package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/dashbite/apigw/internal/config"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

// resolveDataDir returns the data directory from --data-dir, store.data_dir
// in the config, APIGW_DATA_DIR, or ~/.apigw as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if cfg != nil && cfg.Store.DataDir != "" {
		return cfg.Store.DataDir
	}
	if envDir := os.Getenv("APIGW_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".apigw")
}

// loadConfig reads the config file viper located (if any) into a YAMLConfig
// and layers APIGW_* environment overrides on top.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := viper.GetString("server.host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("server.port"); v != 0 {
		cfg.Server.Port = v
	}
	if v := viper.GetString("store.driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v := viper.GetString("store.dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v := viper.GetString("auth.jwt_secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("upstream.base_url"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = v
	}
	return cfg, cfg.Validate()
}

// openStore opens the configured backend. The sqlite driver without a DSN
// keeps its file under the data directory.
func openStore(cfg *config.YAMLConfig) (*store.Store, error) {
	if cfg.Store.Driver == "" || (cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "") {
		return store.NewStore(resolveDataDir(cfg))
	}
	return store.Open(cfg.Store.Driver, cfg.Store.DSN)
}

// openConfiguredStore is the loadConfig + openStore pair most subcommands need.
func openConfiguredStore() (*config.YAMLConfig, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ownerByEmail resolves an --owner flag value.
func ownerByEmail(ctx context.Context, st *store.Store, email string) (*model.Owner, error) {
	owner, err := st.GetOwnerByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("owner %q: %w", email, err)
	}
	return owner, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
