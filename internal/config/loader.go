package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// LoaderOptions describes how configuration should be discovered, mirroring
// bkyoung-code-reviewer/internal/config.LoaderOptions.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
	EnvPrefix   string
}

// Load returns the merged configuration from a YAML file, environment
// variables, and built-in defaults.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "devflow"
	}

	configFile := locateConfigFile(name, opts.ConfigPaths)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(".")
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "DEVFLOW"
	}
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	// A bool's zero value cannot be told apart from an explicit false in
	// applyDefaults, so this default is registered with viper instead.
	v.SetDefault("router.cancel_in_flight_on_block", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg = expandEnvVars(cfg)
	applyDefaults(&cfg)

	if err := cfg.IsValid(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func expandEnvVars(cfg Config) Config {
	cfg.GitHub.Token = expandEnvString(cfg.GitHub.Token)
	cfg.GitHub.WebhookSecret = expandEnvString(cfg.GitHub.WebhookSecret)
	cfg.HTTP.OperatorToken = expandEnvString(cfg.HTTP.OperatorToken)
	cfg.Store.Path = expandEnvString(cfg.Store.Path)
	for k, v := range cfg.Sandbox.Secrets {
		cfg.Sandbox.Secrets[k] = expandEnvString(v)
	}
	for i := range cfg.Repos {
		cfg.Repos[i].WebhookSecret = expandEnvString(cfg.Repos[i].WebhookSecret)
	}
	return cfg
}

var (
	braceVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	bareVarRe  = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// expandEnvString replaces ${VAR} or $VAR with environment variable
// values, matching bkyoung-code-reviewer's config expansion idiom.
func expandEnvString(s string) string {
	if s == "" {
		return s
	}
	s = braceVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
	s = bareVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1:]
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
	return s
}

func locateConfigFile(name string, paths []string) string {
	searchPaths := append([]string{}, paths...)
	searchPaths = append(searchPaths, ".")
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		for _, ext := range []string{".yaml", ".yml"} {
			candidate := filepath.Join(dir, name+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}
