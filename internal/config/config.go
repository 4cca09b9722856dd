// Package config loads pilot's configuration: a pilot.yaml file with
// PILOT_* environment overrides, plus optional per-repository policy
// overrides from .issuepilot.toml (see policy.go).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	GitHub    GitHubConfig    `mapstructure:"github" yaml:"github"`
	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Policy    PolicyConfig    `mapstructure:"policy" yaml:"policy"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Addr          string `mapstructure:"addr" yaml:"addr"`
	WebhookSecret string `mapstructure:"webhook_secret" yaml:"webhook_secret"`
}

// StorageConfig selects the state store backend.
type StorageConfig struct {
	// Conn is the connection string: "memory", a sqlite path, or a
	// mysql:// / dolt:// DSN.
	Conn string `mapstructure:"conn" yaml:"conn"`
}

// GitHubConfig configures the GitHub API client.
type GitHubConfig struct {
	Token      string `mapstructure:"token" yaml:"token"`
	Owner      string `mapstructure:"owner" yaml:"owner"`
	Repo       string `mapstructure:"repo" yaml:"repo"`
	BaseBranch string `mapstructure:"base_branch" yaml:"base_branch"`
}

// AnthropicConfig configures the Claude-backed classifier. With no API
// key the rule-based classifier runs alone.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
}

// ExecutorConfig configures the remediation agent command.
type ExecutorConfig struct {
	Binary  string        `mapstructure:"binary" yaml:"binary"`
	Args    []string      `mapstructure:"args" yaml:"args,omitempty"`
	WorkDir string        `mapstructure:"workdir" yaml:"workdir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PolicyConfig holds lifecycle decision constants.
type PolicyConfig struct {
	ApprovalThreshold float64       `mapstructure:"approval_threshold" yaml:"approval_threshold"`
	ClassifyTimeout   time.Duration `mapstructure:"classify_timeout" yaml:"classify_timeout"`
	MergeTimeout      time.Duration `mapstructure:"merge_timeout" yaml:"merge_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8090"},
		Storage: StorageConfig{Conn: ".pilot/state.db"},
		GitHub:  GitHubConfig{BaseBranch: "main"},
		Executor: ExecutorConfig{
			Binary:  "claude",
			Timeout: 30 * time.Minute,
		},
		Policy: PolicyConfig{
			ApprovalThreshold: 0.8,
			ClassifyTimeout:   30 * time.Second,
			MergeTimeout:      2 * time.Minute,
		},
	}
}

// Load reads configuration from the given file (empty means search
// pilot.yaml in the working directory and ~/.config/issuepilot), applying
// PILOT_* environment overrides on top. A missing config file is not an
// error; defaults and environment carry the day.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pilot")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/issuepilot")
		}
	}

	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file during search is fine; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// The GitHub token commonly arrives via the conventional env var.
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("storage.conn", d.Storage.Conn)
	v.SetDefault("github.base_branch", d.GitHub.BaseBranch)
	v.SetDefault("executor.binary", d.Executor.Binary)
	v.SetDefault("executor.timeout", d.Executor.Timeout)
	v.SetDefault("policy.approval_threshold", d.Policy.ApprovalThreshold)
	v.SetDefault("policy.classify_timeout", d.Policy.ClassifyTimeout)
	v.SetDefault("policy.merge_timeout", d.Policy.MergeTimeout)
}

// WriteTemplate writes a commented starter pilot.yaml. Fails if the file
// already exists.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	out, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to render config template: %w", err)
	}

	header := "# issuepilot configuration. Every key can be overridden via\n# PILOT_<SECTION>_<KEY> environment variables.\n"
	return os.WriteFile(path, append([]byte(header), out...), 0600)
}
