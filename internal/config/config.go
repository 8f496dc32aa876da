// Package config loads the orchestrator's static YAML declaration and
// layers the runtime environment-variable overrides from spec.md §6 on top
// of it, in the idiom of the established yaml.v3 config loader
// generalized with spf13/viper for the environment layer (SPEC_FULL.md §0).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "10s", kept from the prior config.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// AgentConfig describes how to invoke the external agent CLI binary.
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Settings holds the tunables named in spec.md §6's environment variable
// table. YAML provides the static defaults; ApplyEnv layers the process
// environment on top.
type Settings struct {
	WorkspaceRoot             string   `yaml:"workspace_root"`
	GitAuthorName             string   `yaml:"git_author_name"`
	GitAuthorEmail            string   `yaml:"git_author_email"`
	MaxParallelAgents         int      `yaml:"max_parallel_agents"`
	SessionStallSeconds       int      `yaml:"session_stall_seconds"`
	SessionHardTimeoutSeconds int      `yaml:"session_hard_timeout_seconds"`
	MaxJobAttempts            int      `yaml:"max_job_attempts"`
	MaxPipelineRetries        int      `yaml:"max_pipeline_retries"`
	DeployMonitorTimeout      Duration `yaml:"deploy_monitor_timeout"`
	SmokeTestTimeout          Duration `yaml:"smoke_test_timeout"`
	GitPushTimeout            Duration `yaml:"git_push_timeout"`
	GitCommandTimeout         Duration `yaml:"git_command_timeout"`
	TestRunTimeout            Duration `yaml:"test_run_timeout"`
	OutputBufferTTL           Duration `yaml:"output_buffer_ttl"`
}

// StoreConfig points at the durable and ephemeral backends
// (JOB_QUEUE_BACKEND_URL / PIPELINE_STATE_BACKEND_URL /
// OUTPUT_BUFFER_BACKEND_URL in spec.md §6; here a single SQLite DSN backs
// the first two and the ephemeral store is always in-process).
type StoreConfig struct {
	JobQueueBackendURL      string `yaml:"job_queue_backend_url"`
	PipelineStateBackendURL string `yaml:"pipeline_state_backend_url"`
	OutputBufferBackendURL  string `yaml:"output_buffer_backend_url"`
}

// HTTPConfig configures the control-plane listener (spec.md §6).
type HTTPConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// Config is the top-level orchestrator declaration.
type Config struct {
	Agent    AgentConfig `yaml:"agent"`
	Settings Settings    `yaml:"settings"`
	Store    StoreConfig `yaml:"store"`
	HTTP     HTTPConfig  `yaml:"http"`
}

// Load reads and parses a YAML config file, applying defaults and then the
// process environment (spec.md §6).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Settings.GitAuthorName == "" {
		cfg.Settings.GitAuthorName = "DevOS Agent"
	}
	if cfg.Settings.GitAuthorEmail == "" {
		cfg.Settings.GitAuthorEmail = "agent@devos.ai"
	}
	if cfg.Settings.MaxParallelAgents == 0 {
		cfg.Settings.MaxParallelAgents = 5
	}
	if cfg.Settings.SessionStallSeconds == 0 {
		cfg.Settings.SessionStallSeconds = 600
	}
	if cfg.Settings.SessionHardTimeoutSeconds == 0 {
		cfg.Settings.SessionHardTimeoutSeconds = 14400
	}
	if cfg.Settings.MaxJobAttempts == 0 {
		cfg.Settings.MaxJobAttempts = 3
	}
	if cfg.Settings.MaxPipelineRetries == 0 {
		cfg.Settings.MaxPipelineRetries = 3
	}
	if cfg.Settings.DeployMonitorTimeout == 0 {
		cfg.Settings.DeployMonitorTimeout = Duration(10 * time.Minute)
	}
	if cfg.Settings.SmokeTestTimeout == 0 {
		cfg.Settings.SmokeTestTimeout = Duration(5 * time.Minute)
	}
	if cfg.Settings.GitPushTimeout == 0 {
		cfg.Settings.GitPushTimeout = Duration(2 * time.Minute)
	}
	if cfg.Settings.GitCommandTimeout == 0 {
		cfg.Settings.GitCommandTimeout = Duration(30 * time.Second)
	}
	if cfg.Settings.TestRunTimeout == 0 {
		cfg.Settings.TestRunTimeout = Duration(5 * time.Minute)
	}
	if cfg.Settings.OutputBufferTTL == 0 {
		cfg.Settings.OutputBufferTTL = Duration(time.Hour)
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":8080"
	}
}

// envBindings maps spec.md §6's required environment variables onto viper
// keys. ApplyEnv overrides whatever the YAML file set, the way
// andymwolf-agentium layers viper env binding on top of static config.
var envBindings = map[string]string{
	"GIT_AUTHOR_NAME":              "settings.git_author_name",
	"GIT_AUTHOR_EMAIL":             "settings.git_author_email",
	"WORKSPACE_ROOT":               "settings.workspace_root",
	"CLI_BINARY_PATH":              "agent.command",
	"JOB_QUEUE_BACKEND_URL":        "store.job_queue_backend_url",
	"PIPELINE_STATE_BACKEND_URL":   "store.pipeline_state_backend_url",
	"OUTPUT_BUFFER_BACKEND_URL":    "store.output_buffer_backend_url",
	"MAX_PARALLEL_AGENTS":          "settings.max_parallel_agents",
	"SESSION_STALL_SECONDS":        "settings.session_stall_seconds",
	"SESSION_HARD_TIMEOUT_SECONDS": "settings.session_hard_timeout_seconds",
}

// ApplyEnv layers the process environment on top of cfg in place, following
// spec.md §6's environment variable table.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	for env, key := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if val := v.GetString("settings.git_author_name"); val != "" {
		cfg.Settings.GitAuthorName = val
	}
	if val := v.GetString("settings.git_author_email"); val != "" {
		cfg.Settings.GitAuthorEmail = val
	}
	if val := v.GetString("settings.workspace_root"); val != "" {
		cfg.Settings.WorkspaceRoot = val
	}
	if val := v.GetString("agent.command"); val != "" {
		cfg.Agent.Command = val
	}
	if val := v.GetString("store.job_queue_backend_url"); val != "" {
		cfg.Store.JobQueueBackendURL = val
	}
	if val := v.GetString("store.pipeline_state_backend_url"); val != "" {
		cfg.Store.PipelineStateBackendURL = val
	}
	if val := v.GetString("store.output_buffer_backend_url"); val != "" {
		cfg.Store.OutputBufferBackendURL = val
	}
	if val := v.GetInt("settings.max_parallel_agents"); val != 0 {
		cfg.Settings.MaxParallelAgents = val
	}
	if val := v.GetInt("settings.session_stall_seconds"); val != 0 {
		cfg.Settings.SessionStallSeconds = val
	}
	if val := v.GetInt("settings.session_hard_timeout_seconds"); val != 0 {
		cfg.Settings.SessionHardTimeoutSeconds = val
	}
}

// Validate checks required fields, mirroring the prior config.Validate
// shape (a slice of plain errors rather than failing fast on the first).
func Validate(cfg *Config) []error {
	var errs []error
	if cfg.Agent.Command == "" {
		errs = append(errs, fmt.Errorf("agent.command is required (or CLI_BINARY_PATH)"))
	}
	if cfg.Settings.WorkspaceRoot == "" {
		errs = append(errs, fmt.Errorf("settings.workspace_root is required (or WORKSPACE_ROOT)"))
	}
	return errs
}
