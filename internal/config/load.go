package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration for workingDir. Sources are applied in
// order: built-in defaults, the TOML config file, a .env file in
// workingDir, then SANDCHAT_* environment variables.
func Load(workingDir, dataDir string, debug bool) (*Config, error) {
	cfg := defaults(workingDir)

	path, err := lookupConfigFile(workingDir)
	if err != nil {
		return nil, err
	}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for _, key := range md.Undecoded() {
			slog.Warn("Unknown configuration key", "file", path, "key", key.String())
		}
		cfg.configFile = path
	}

	if err := godotenv.Load(filepath.Join(workingDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debug {
		cfg.Debug = true
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// lookupConfigFile returns the first config file found among
// $SANDCHAT_CONFIG, the working directory and the user config directory.
func lookupConfigFile(workingDir string) (string, error) {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file %s: %w", p, err)
		}
		return p, nil
	}
	candidates := []string{filepath.Join(workingDir, defaultConfigName)}
	if dir := userConfigDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, appName, defaultConfigName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

func userConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("HOST", &cfg.Host)
	str("DATA_DIR", &cfg.DataDir)
	str("ARTIFACTS_DIR", &cfg.ArtifactsDir)
	str("STATIC_DIR", &cfg.StaticDir)
	str("DEFAULT_MODEL", &cfg.DefaultModel)
	str("SANDBOX_BACKEND", &cfg.Sandbox.Backend)
	str("SANDBOX_PROVIDER", &cfg.Sandbox.Provider)
	str("SANDBOX_URL", &cfg.Sandbox.URL)
	str("SANDBOX_API_KEY", &cfg.Sandbox.APIKey)
	str("SYSTEM_PROMPT", &cfg.Sandbox.SystemPrompt)
	str("KNOWLEDGE_DB", &cfg.Knowledge.Database)

	if v, ok := lookup(EnvPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT: %w", EnvPrefix, err)
		}
		cfg.Port = port
	}
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDEBUG: %w", EnvPrefix, err)
		}
		cfg.Debug = b
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		cfg.CORSOrigins = nil
		for o := range strings.SplitSeq(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	durations := map[string]*time.Duration{
		"CHUNK_DELAY":     &cfg.ChunkDelay.Duration,
		"MODEL_TIMEOUT":   &cfg.ModelTimeout.Duration,
		"SANDBOX_TIMEOUT": &cfg.Sandbox.Timeout.Duration,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}
	return nil
}
