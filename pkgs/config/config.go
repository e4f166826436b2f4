package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvConfigJSONPath is the env var that points to the config file
	// used when emx-config is not available. JSON and YAML are accepted.
	EnvConfigJSONPath = "EMX_MAIL_CONFIG_JSON"
)

// envBindings maps config keys to the environment variables overriding them.
var envBindings = map[string]string{
	"mail.default_account":       "EMX_MAIL_DEFAULT_ACCOUNT",
	"mail.store.path":            "EMX_MAIL_DB",
	"mail.log.level":             "EMX_MAIL_LOG_LEVEL",
	"mail.log.format":            "EMX_MAIL_LOG_FORMAT",
	"mail.log.output":            "EMX_MAIL_LOG_OUTPUT",
	"mail.relocate.batch_size":   "EMX_MAIL_RELOCATE_BATCH_SIZE",
	"mail.retrieve.mark_as_read": "EMX_MAIL_MARK_AS_READ",
}

// EnvOverride names an environment variable that overrides a config key.
type EnvOverride struct {
	Key string
	Env string
}

// EnvOverrides lists the supported environment overrides sorted by key.
func EnvOverrides() []EnvOverride {
	out := make([]EnvOverride, 0, len(envBindings))
	for key, env := range envBindings {
		out = append(out, EnvOverride{Key: key, Env: env})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ProtocolSettings holds IMAP connection settings.
type ProtocolSettings struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password,omitempty"`

	// SSL enables implicit TLS (connect directly over TLS).
	SSL bool `mapstructure:"ssl" json:"ssl"`
	// StartTLS enables opportunistic TLS upgrade after connecting in plaintext.
	StartTLS bool `mapstructure:"starttls" json:"starttls"`

	// AuthMechanism is LOGIN (default) or PLAIN.
	AuthMechanism string `mapstructure:"auth_mechanism" json:"auth_mechanism,omitempty"`
}

// AccountConfig holds email account configuration
//
// NOTE: This structure mirrors the emx-config nested config schema.
// See ExampleRootConfig for the expected JSON shape.
type AccountConfig struct {
	Name  string `mapstructure:"name" json:"name"`
	Email string `mapstructure:"email" json:"email"`

	IMAP ProtocolSettings `mapstructure:"imap" json:"imap"`

	// Watch settings
	Watch *WatchConfig `mapstructure:"watch" json:"watch,omitempty"`
}

// WatchConfig holds watch mode configuration
type WatchConfig struct {
	Folder       string `mapstructure:"folder" json:"folder,omitempty"`               // Folder to watch, default "INBOX"
	KeepAlive    int    `mapstructure:"keep_alive" json:"keep_alive,omitempty"`       // Keep-alive interval in seconds, default 30
	PollInterval int    `mapstructure:"poll_interval" json:"poll_interval,omitempty"` // Poll interval in seconds, default 30
	MaxRetries   int    `mapstructure:"max_retries" json:"max_retries,omitempty"`     // Max retry attempts, default 5
}

// RetrieveConfig holds the defaults of the retrieve command.
type RetrieveConfig struct {
	Folder      string `mapstructure:"folder" json:"folder,omitempty"`
	Seen        string `mapstructure:"seen" json:"seen,omitempty"`
	Answered    string `mapstructure:"answered" json:"answered,omitempty"`
	Selection   string `mapstructure:"selection" json:"selection,omitempty"`
	Limit       int    `mapstructure:"limit" json:"limit,omitempty"`
	MarkAsRead  bool   `mapstructure:"mark_as_read" json:"mark_as_read,omitempty"`
	Attachments bool   `mapstructure:"attachments" json:"attachments,omitempty"`
	Headers     bool   `mapstructure:"headers" json:"headers,omitempty"`
}

// RelocateConfig holds relocation settings.
type RelocateConfig struct {
	BatchSize int `mapstructure:"batch_size" json:"batch_size,omitempty"`
}

// StoreConfig locates the SQLite row store.
type StoreConfig struct {
	Path string `mapstructure:"path" json:"path,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level,omitempty"`
	Format string `mapstructure:"format" json:"format,omitempty"`
	Output string `mapstructure:"output" json:"output,omitempty"`
}

// Config holds the application configuration
//
// accounts is a map keyed by account name. Keys are case-insensitive.
// default_account selects the account when none is specified.
type Config struct {
	Accounts       map[string]AccountConfig `mapstructure:"accounts" json:"accounts"`
	DefaultAccount string                   `mapstructure:"default_account" json:"default_account,omitempty"`

	Retrieve RetrieveConfig `mapstructure:"retrieve" json:"retrieve"`
	Relocate RelocateConfig `mapstructure:"relocate" json:"relocate"`
	Store    StoreConfig    `mapstructure:"store" json:"store"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// RootConfig wraps the app config to align with emx-config list --json output.
type RootConfig struct {
	Mail Config `mapstructure:"mail" json:"mail"`
}

// HasEmxConfig returns true when the emx-config CLI is available in PATH.
func HasEmxConfig() bool {
	_, err := exec.LookPath("emx-config")
	return err == nil
}

// LoadConfig loads configuration based on the emx-config-first mechanism.
//
// 1) If emx-config exists: read config from `emx-config list --json`.
// 2) Otherwise: read config from the file specified by EnvConfigJSONPath.
func LoadConfig() (*Config, error) {
	if HasEmxConfig() {
		return loadFromEmxConfig()
	}
	return loadFromEnvJSON()
}

// LoadConfigFile loads configuration from a JSON or YAML file path.
func LoadConfigFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseRootConfig(v)
}

// SaveConfig saves configuration to a JSON file path.
func SaveConfig(path string, root *RootConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnvConfigPath returns the config file path from EnvConfigJSONPath.
func GetEnvConfigPath() (string, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigJSONPath))
	if path == "" {
		return "", fmt.Errorf("%s is not set", EnvConfigJSONPath)
	}
	return path, nil
}

// GetAccount returns an account by name or email.
func (c *Config) GetAccount(identifier string) (*AccountConfig, error) {
	if len(c.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}

	if identifier == "" {
		if c.DefaultAccount != "" {
			identifier = c.DefaultAccount
		} else {
			// Deterministic fallback to the first key
			keys := make([]string, 0, len(c.Accounts))
			for k := range c.Accounts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			identifier = keys[0]
		}
	}

	// Direct name match (map key)
	if acc, ok := c.Accounts[strings.ToLower(identifier)]; ok {
		if acc.Name == "" {
			acc.Name = strings.ToLower(identifier)
		}
		return &acc, nil
	}

	// Search by name or email fields
	for name, acc := range c.Accounts {
		if acc.Name == identifier || acc.Email == identifier {
			if acc.Name == "" {
				acc.Name = name
			}
			return &acc, nil
		}
	}

	return nil, fmt.Errorf("account not found: %s", identifier)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	for name, acc := range c.Accounts {
		if acc.Name == "" {
			acc.Name = name
		}
		if acc.Email == "" {
			return fmt.Errorf("account %s: email is required", acc.Name)
		}
		if acc.IMAP.Host == "" {
			return fmt.Errorf("account %s: imap host is required", acc.Name)
		}
	}

	if c.DefaultAccount != "" {
		if _, ok := c.Accounts[strings.ToLower(c.DefaultAccount)]; !ok {
			return fmt.Errorf("default_account not found: %s", c.DefaultAccount)
		}
	}

	if c.Relocate.BatchSize <= 0 {
		return fmt.Errorf("relocate.batch_size must be positive: %d", c.Relocate.BatchSize)
	}
	if c.Retrieve.Limit < 0 {
		return fmt.Errorf("retrieve.limit must not be negative: %d", c.Retrieve.Limit)
	}

	return nil
}

// ExampleRootConfig returns an example configuration for "init".
func ExampleRootConfig() *RootConfig {
	return &RootConfig{
		Mail: Config{
			DefaultAccount: "work",
			Accounts: map[string]AccountConfig{
				"work": {
					Name:  "Work Account",
					Email: "user@example.com",
					IMAP: ProtocolSettings{
						Host:     "imap.example.com",
						Port:     993,
						Username: "user@example.com",
						SSL:      true,
					},
				},
			},
			Retrieve: RetrieveConfig{
				Folder:    "INBOX",
				Seen:      "unseen",
				Answered:  "all",
				Selection: "newest",
				Limit:     50,
			},
			Relocate: RelocateConfig{BatchSize: 10},
			Store:    StoreConfig{Path: "mailrows.db"},
		},
	}
}

// --- internal helpers ---

func newViper() *viper.Viper {
	v := viper.New()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("mail.retrieve.folder", "INBOX")
	v.SetDefault("mail.retrieve.seen", "all")
	v.SetDefault("mail.retrieve.answered", "all")
	v.SetDefault("mail.retrieve.selection", "all")
	v.SetDefault("mail.retrieve.limit", 0)
	v.SetDefault("mail.relocate.batch_size", 10)
	v.SetDefault("mail.store.path", "mailrows.db")
	v.SetDefault("mail.log.level", "info")
	v.SetDefault("mail.log.format", "text")
	v.SetDefault("mail.log.output", "stderr")

	for key, env := range envBindings {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(key, env)
	}
	return v
}

func loadFromEnvJSON() (*Config, error) {
	path, err := GetEnvConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFile(path)
}

func loadFromEmxConfig() (*Config, error) {
	cmd := exec.Command("emx-config", "list", "--json")
	var out bytes.Buffer
	var errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		stderr := strings.TrimSpace(errOut.String())
		if stderr != "" {
			return nil, fmt.Errorf("emx-config list --json failed: %w: %s", err, stderr)
		}
		return nil, fmt.Errorf("emx-config list --json failed: %w", err)
	}

	return parseConfigData(out.Bytes())
}

func parseConfigData(data []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return parseRootConfig(v)
}

func parseRootConfig(v *viper.Viper) (*Config, error) {
	if !v.IsSet("mail.accounts") {
		return nil, fmt.Errorf("missing required key: mail.accounts")
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &root.Mail
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
