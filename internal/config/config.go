package config

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/invopop/jsonschema"
)

const (
	appName              = "sandchat"
	defaultDataDirectory = ".sandchat"
	defaultConfigName    = appName + ".toml"

	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "SANDCHAT_"
)

// Sandbox backends.
const (
	BackendProvider = "provider"
	BackendRemote   = "remote"
)

// TypeEcho is an offline provider that answers by echoing the prompt.
const TypeEcho catwalk.Type = "echo"

// Duration is a [time.Duration] written as a Go duration string such as
// "20ms" in configuration files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "Go duration string",
		Examples:    []any{"20ms", "2m"},
	}
}

type ProviderConfig struct {
	// ID is the key of the provider in the providers table.
	ID           string            `toml:"-" json:"-"`
	Type         catwalk.Type      `toml:"type" json:"type" jsonschema:"description=Provider API type,enum=openai,enum=anthropic,enum=gemini,enum=echo"`
	APIKey       string            `toml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"description=API key; $VARS are expanded from the environment"`
	BaseURL      string            `toml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"description=Override of the provider API endpoint"`
	Model        string            `toml:"model" json:"model" jsonschema:"description=Model identifier sent to the provider"`
	MaxTokens    int64             `toml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"description=Maximum tokens generated per reply,minimum=1"`
	ExtraHeaders map[string]string `toml:"extra_headers,omitempty" json:"extra_headers,omitempty"`
}

type SandboxConfig struct {
	Backend      string   `toml:"backend" json:"backend" jsonschema:"description=Where sandboxes run,enum=provider,enum=remote,default=provider"`
	Provider     string   `toml:"provider,omitempty" json:"provider,omitempty" jsonschema:"description=Provider used by the provider backend"`
	URL          string   `toml:"url,omitempty" json:"url,omitempty" jsonschema:"description=Base URL of the remote sandbox daemon"`
	APIKey       string   `toml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"description=Bearer token for the remote sandbox daemon"`
	SystemPrompt string   `toml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Timeout      Duration `toml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"description=HTTP timeout for remote sandbox calls"`
}

type KnowledgeConfig struct {
	Database string `toml:"database,omitempty" json:"database,omitempty" jsonschema:"description=Path of the SQLite knowledge index"`
	TopK     int    `toml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"description=Default number of retrieved chunks,minimum=1,default=3"`
}

type Config struct {
	Host         string   `toml:"host" json:"host" jsonschema:"default=127.0.0.1"`
	Port         int      `toml:"port" json:"port" jsonschema:"default=8000"`
	CORSOrigins  []string `toml:"cors_origins" json:"cors_origins" jsonschema:"description=Origins allowed to call the API"`
	DataDir      string   `toml:"data_dir" json:"data_dir" jsonschema:"description=Directory for logs and local state"`
	ArtifactsDir string   `toml:"artifacts_dir" json:"artifacts_dir"`
	StaticDir    string   `toml:"static_dir" json:"static_dir" jsonschema:"description=Directory holding index.html"`
	Debug        bool     `toml:"debug" json:"debug"`
	DefaultModel string   `toml:"default_model" json:"default_model" jsonschema:"default=haiku"`
	ChunkDelay   Duration `toml:"chunk_delay" json:"chunk_delay" jsonschema:"description=Pause between streamed words"`
	ModelTimeout Duration `toml:"model_timeout,omitempty" json:"model_timeout,omitempty" jsonschema:"description=Upper bound on one model call; zero means none"`

	Sandbox   SandboxConfig             `toml:"sandbox" json:"sandbox"`
	Knowledge KnowledgeConfig           `toml:"knowledge" json:"knowledge"`
	Providers map[string]ProviderConfig `toml:"providers" json:"providers"`

	workingDir string
	configFile string
}

func (c *Config) WorkingDir() string {
	return c.workingDir
}

// ConfigFile is the file the configuration was read from, if any.
func (c *Config) ConfigFile() string {
	return c.configFile
}

func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "logs", appName+".log")
}

// Provider returns the provider the sandbox backend talks to.
func (c *Config) Provider() (ProviderConfig, bool) {
	p, ok := c.Providers[c.Sandbox.Provider]
	return p, ok
}

// ProviderNames returns the configured provider ids in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func defaults(workingDir string) *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         8000,
		CORSOrigins:  []string{"http://localhost:4200", "http://localhost:3000", "http://127.0.0.1:4200"},
		DataDir:      filepath.Join(workingDir, defaultDataDirectory),
		StaticDir:    filepath.Join(workingDir, "static"),
		DefaultModel: "haiku",
		ChunkDelay:   Duration{20 * time.Millisecond},
		Sandbox: SandboxConfig{
			Backend:  BackendProvider,
			Provider: "minimax",
			Timeout:  Duration{2 * time.Minute},
		},
		Knowledge: KnowledgeConfig{TopK: 3},
		Providers: map[string]ProviderConfig{
			"minimax": {
				Type:    catwalk.TypeOpenAI,
				APIKey:  "$MINIMAX_API_KEY",
				BaseURL: "https://api.minimax.io/v1",
				Model:   "MiniMax-M2",
			},
			"echo": {
				Type:  TypeEcho,
				Model: "echo",
			},
		},
		workingDir: workingDir,
	}
}

func (c *Config) setDefaults() {
	c.Host = cmp.Or(c.Host, "127.0.0.1")
	if c.Port == 0 {
		c.Port = 8000
	}
	c.DataDir = absPath(c.workingDir, cmp.Or(c.DataDir, defaultDataDirectory))
	c.ArtifactsDir = absPath(c.workingDir, cmp.Or(c.ArtifactsDir, filepath.Join(c.DataDir, "artifacts")))
	c.StaticDir = absPath(c.workingDir, cmp.Or(c.StaticDir, "static"))
	c.Knowledge.Database = absPath(c.workingDir, cmp.Or(c.Knowledge.Database, filepath.Join(c.DataDir, "knowledge.db")))
	if c.Knowledge.TopK <= 0 {
		c.Knowledge.TopK = 3
	}
	c.DefaultModel = cmp.Or(c.DefaultModel, "haiku")
	c.Sandbox.Backend = cmp.Or(c.Sandbox.Backend, BackendProvider)

	for id, p := range c.Providers {
		p.ID = id
		p.APIKey = strings.TrimSpace(os.ExpandEnv(p.APIKey))
		p.BaseURL = os.ExpandEnv(p.BaseURL)
		c.Providers[id] = p
	}
	c.Sandbox.APIKey = strings.TrimSpace(os.ExpandEnv(c.Sandbox.APIKey))

	if c.Sandbox.Backend == BackendProvider {
		p, ok := c.Provider()
		_, hasEcho := c.Providers["echo"]
		if ok && p.Type != TypeEcho && p.APIKey == "" && hasEcho {
			slog.Warn("Provider has no API key, falling back to echo", "provider", p.ID)
			c.Sandbox.Provider = "echo"
		}
	}
}

func (c *Config) validate() error {
	switch c.Sandbox.Backend {
	case BackendProvider:
		p, ok := c.Provider()
		if !ok {
			return fmt.Errorf("sandbox provider %q is not configured", c.Sandbox.Provider)
		}
		switch p.Type {
		case catwalk.TypeOpenAI, catwalk.TypeAnthropic, catwalk.TypeGemini, TypeEcho:
		default:
			return fmt.Errorf("provider %q has unsupported type %q", p.ID, p.Type)
		}
	case BackendRemote:
		if c.Sandbox.URL == "" {
			return fmt.Errorf("sandbox backend %q requires a url", BackendRemote)
		}
	default:
		return fmt.Errorf("unknown sandbox backend %q", c.Sandbox.Backend)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ChunkDelay.Duration < 0 || c.ModelTimeout.Duration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func absPath(base, p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
