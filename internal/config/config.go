// Package config loads devflow's configuration, grounded on
// bkyoung-code-reviewer/internal/config (viper-backed YAML + environment
// overlay with ${VAR} expansion) while keeping the teacher's
// configuration.go IsValid()/default-filling shape.
package config

import "fmt"

// Config is devflow's flat configuration, analogous in spirit to the
// teacher's `configuration` struct: one struct, validated as a whole,
// with defaults filled where the caller omitted a value.
type Config struct {
	Debug bool `mapstructure:"debug"`

	HTTP struct {
		Addr          string `mapstructure:"addr"`
		OperatorToken string `mapstructure:"operator_token"`
		MetricsAddr   string `mapstructure:"metrics_addr"`
		// RateLimitPerMinute caps requests per caller (by operator token,
		// falling back to remote address) against the /api subrouter.
		RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	} `mapstructure:"http"`

	Store struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	GitHub struct {
		AppID          int64  `mapstructure:"app_id"`
		InstallationID int64  `mapstructure:"installation_id"`
		Token          string `mapstructure:"token"`
		// WebhookSecret is the GitHub App's webhook secret, shared across
		// every repository the app is installed into (installations are
		// app-scoped, not per-repository).
		WebhookSecret string `mapstructure:"webhook_secret"`
	} `mapstructure:"github"`

	Sandbox struct {
		CreateTimeoutSeconds int     `mapstructure:"create_timeout_seconds"`
		SessionTTLSeconds    int     `mapstructure:"session_ttl_seconds"`
		CreateBurst          int     `mapstructure:"create_burst"`
		CreateRatePerSecond  float64 `mapstructure:"create_rate_per_second"`
		Secrets              map[string]string `mapstructure:"secrets"`
	} `mapstructure:"sandbox"`

	Sync struct {
		MaxPushRetries int `mapstructure:"max_push_retries"`
	} `mapstructure:"sync"`

	Router struct {
		// CancelInFlightOnBlock resolves the Design Notes open question:
		// whether "on issue becomes blocked" should cancel in-flight
		// workflows or only clear future assignments. Default true.
		CancelInFlightOnBlock bool   `mapstructure:"cancel_in_flight_on_block"`
		DailySummaryCron      string `mapstructure:"daily_summary_cron"`
		WeeklyPlanningCron    string `mapstructure:"weekly_planning_cron"`
	} `mapstructure:"router"`

	Reconcile struct {
		// DefaultPolicy resolves the conflict-resolution-policy open
		// question. Default surface-conflict: never silently pick a
		// side. It is one global value checked by IsValid; the
		// sync-issues endpoint takes local-wins/remote-wins/newest-wins
		// from its request body and does not read this field.
		DefaultPolicy string `mapstructure:"default_policy"`
	} `mapstructure:"reconcile"`

	Merge struct {
		// Type is the merge_type configuration (squash/merge/rebase),
		// defaulting to squash. It is one global value checked by
		// IsValid; the PR merge endpoint does not read it.
		Type string `mapstructure:"type"`
	} `mapstructure:"merge"`

	// Repos statically seeds the repository bindings devflow serves,
	// read once at startup instead of waiting on a GitHub App
	// installation event for every repository an operator already knows
	// about.
	Repos []RepoConfig `mapstructure:"repos"`
}

// RepoConfig is one statically configured repository binding.
type RepoConfig struct {
	Owner          string `mapstructure:"owner"`
	Name           string `mapstructure:"name"`
	InstallationID int64  `mapstructure:"installation_id"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	DefaultBranch  string `mapstructure:"default_branch"`
	// CloneDir is the working-tree root the sync coordinator and develop
	// workflow check this repository out into.
	CloneDir string `mapstructure:"clone_dir"`
}

// Defaults returns a Config with every field populated with devflow's
// built-in defaults, the way the teacher's OnConfigurationChange fills in
// DefaultBranch/DefaultModel/PollIntervalSeconds when unset.
func Defaults() Config {
	var c Config
	c.HTTP.Addr = ":8080"
	c.HTTP.MetricsAddr = ":9090"
	c.HTTP.RateLimitPerMinute = 100
	c.Store.Path = "devflow.db"
	c.Sandbox.CreateTimeoutSeconds = 30
	c.Sandbox.SessionTTLSeconds = 3600
	c.Sandbox.CreateBurst = 5
	c.Sandbox.CreateRatePerSecond = 1
	c.Sync.MaxPushRetries = 3
	c.Router.CancelInFlightOnBlock = true
	c.Router.DailySummaryCron = "0 9 * * *"
	c.Router.WeeklyPlanningCron = "0 9 * * 1"
	c.Reconcile.DefaultPolicy = "surface-conflict"
	c.Merge.Type = "squash"
	return c
}

// applyDefaults fills any zero-valued field in cfg from Defaults(), the
// way OnConfigurationChange fills DefaultBranch/PollIntervalSeconds only
// when the loaded value is empty/zero.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = d.HTTP.Addr
	}
	if cfg.HTTP.MetricsAddr == "" {
		cfg.HTTP.MetricsAddr = d.HTTP.MetricsAddr
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = d.Store.Path
	}
	if cfg.HTTP.RateLimitPerMinute == 0 {
		cfg.HTTP.RateLimitPerMinute = d.HTTP.RateLimitPerMinute
	}
	if cfg.Sandbox.CreateTimeoutSeconds == 0 {
		cfg.Sandbox.CreateTimeoutSeconds = d.Sandbox.CreateTimeoutSeconds
	}
	if cfg.Sandbox.SessionTTLSeconds == 0 {
		cfg.Sandbox.SessionTTLSeconds = d.Sandbox.SessionTTLSeconds
	}
	if cfg.Sandbox.CreateBurst == 0 {
		cfg.Sandbox.CreateBurst = d.Sandbox.CreateBurst
	}
	if cfg.Sandbox.CreateRatePerSecond == 0 {
		cfg.Sandbox.CreateRatePerSecond = d.Sandbox.CreateRatePerSecond
	}
	if cfg.Sync.MaxPushRetries == 0 {
		cfg.Sync.MaxPushRetries = d.Sync.MaxPushRetries
	}
	if cfg.Router.DailySummaryCron == "" {
		cfg.Router.DailySummaryCron = d.Router.DailySummaryCron
	}
	if cfg.Router.WeeklyPlanningCron == "" {
		cfg.Router.WeeklyPlanningCron = d.Router.WeeklyPlanningCron
	}
	if cfg.Reconcile.DefaultPolicy == "" {
		cfg.Reconcile.DefaultPolicy = d.Reconcile.DefaultPolicy
	}
	if cfg.Merge.Type == "" {
		cfg.Merge.Type = d.Merge.Type
	}
}

// IsValid checks that required configuration is present and well-formed,
// mirroring the teacher's configuration.IsValid().
func (c Config) IsValid() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	switch ConflictPolicy(c.Reconcile.DefaultPolicy) {
	case PolicyLocalWins, PolicyRemoteWins, PolicyNewestWins, PolicySurfaceConflict:
	default:
		return fmt.Errorf("reconcile.default_policy %q is not a recognized policy", c.Reconcile.DefaultPolicy)
	}
	switch c.Merge.Type {
	case "squash", "merge", "rebase":
	default:
		return fmt.Errorf("merge.type %q must be one of squash, merge, rebase", c.Merge.Type)
	}
	return nil
}

// ConflictPolicy re-exports issue.ConflictPolicy's string values so this
// package does not need to import internal/issue just for validation.
type ConflictPolicy string

const (
	PolicyLocalWins       ConflictPolicy = "local-wins"
	PolicyRemoteWins      ConflictPolicy = "remote-wins"
	PolicyNewestWins      ConflictPolicy = "newest-wins"
	PolicySurfaceConflict ConflictPolicy = "surface-conflict"
)
