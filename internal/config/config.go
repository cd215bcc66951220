// Package config loads geoexec settings from defaults, a .env file, an
// optional config file and GEOEXEC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. GEOEXEC_SANDBOX_BACKEND.
const EnvPrefix = "GEOEXEC"

// Sandbox backends.
const (
	BackendProcess    = "process"
	BackendDocker     = "docker"
	BackendKubernetes = "kubernetes"
)

// ErrConfiguration indicates an invalid or incomplete configuration.
var ErrConfiguration = errors.New("configuration error")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config is the full set of geoexec settings.
type Config struct {
	OpenAI     OpenAI     `mapstructure:"openai"`
	Prompt     Prompt     `mapstructure:"prompt"`
	Sandbox    Sandbox    `mapstructure:"sandbox"`
	Kubernetes Kubernetes `mapstructure:"kubernetes"`
	ResultName string     `mapstructure:"result_name"`
	HTTP       HTTP       `mapstructure:"http"`
	Log        Log        `mapstructure:"log"`
}

type OpenAI struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type Prompt struct {
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type Sandbox struct {
	Backend        string        `mapstructure:"backend"`
	Profile        string        `mapstructure:"profile"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Python         string        `mapstructure:"python"`
	Image          string        `mapstructure:"image"`
	DockerRuntime  string        `mapstructure:"docker_runtime"`
	SeccompProfile string        `mapstructure:"seccomp_profile"`
	MemoryBytes    int64         `mapstructure:"memory_bytes"`
	CPUSeconds     int64         `mapstructure:"cpu_seconds"`
	// Pids caps container and pod processes. The process backend ignores it
	// because RLIMIT_NPROC would count every process of the host user.
	Pids           int64         `mapstructure:"pids"`
}

type Kubernetes struct {
	Namespace    string `mapstructure:"namespace"`
	Kubeconfig   string `mapstructure:"kubeconfig"`
	RuntimeClass string `mapstructure:"runtime_class"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an optional YAML, JSON or TOML file.
	ConfigFile string

	// EnvFile is loaded into the process environment when it exists.
	// Variables already set are not overridden. Default: .env
	EnvFile string

	// Viper is used instead of a fresh instance, so callers can bind flags
	// before loading.
	Viper *viper.Viper
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("prompt.attempt_timeout", 60*time.Second)
	v.SetDefault("prompt.max_attempts", 3)
	v.SetDefault("sandbox.backend", BackendProcess)
	v.SetDefault("sandbox.profile", "standard")
	v.SetDefault("sandbox.timeout", 30*time.Second)
	v.SetDefault("sandbox.python", "python3")
	v.SetDefault("sandbox.image", "geoexec-sandbox:latest")
	v.SetDefault("sandbox.docker_runtime", "")
	v.SetDefault("sandbox.seccomp_profile", "")
	v.SetDefault("sandbox.memory_bytes", int64(512<<20))
	v.SetDefault("sandbox.cpu_seconds", int64(20))
	v.SetDefault("sandbox.pids", int64(64))
	v.SetDefault("kubernetes.namespace", "default")
	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.runtime_class", "")
	v.SetDefault("result_name", "final_gdf")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the configuration. It does not validate it.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := opts.Viper
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var problems []string

	switch c.Sandbox.Backend {
	case BackendProcess, BackendDocker, BackendKubernetes:
	default:
		problems = append(problems, "sandbox.backend")
	}
	switch c.Sandbox.Profile {
	case "dev", "standard", "hardened":
	default:
		problems = append(problems, "sandbox.profile")
	}
	if c.Sandbox.Timeout <= 0 {
		problems = append(problems, "sandbox.timeout")
	}
	if c.Sandbox.MemoryBytes < 0 {
		problems = append(problems, "sandbox.memory_bytes")
	}
	if c.Sandbox.CPUSeconds < 0 {
		problems = append(problems, "sandbox.cpu_seconds")
	}
	if c.Sandbox.Pids < 0 {
		problems = append(problems, "sandbox.pids")
	}
	if c.Sandbox.Backend == BackendProcess && c.Sandbox.Python == "" {
		problems = append(problems, "sandbox.python")
	}
	if c.Sandbox.Backend != BackendProcess && c.Sandbox.Image == "" {
		problems = append(problems, "sandbox.image")
	}
	if c.Sandbox.Backend == BackendKubernetes && c.Kubernetes.Namespace == "" {
		problems = append(problems, "kubernetes.namespace")
	}
	if c.Prompt.AttemptTimeout <= 0 {
		problems = append(problems, "prompt.attempt_timeout")
	}
	if c.Prompt.MaxAttempts < 1 {
		problems = append(problems, "prompt.max_attempts")
	}
	if !identifier.MatchString(c.ResultName) {
		problems = append(problems, "result_name")
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		problems = append(problems, "log.level")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, "log.format")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: missing or invalid fields: %s",
			ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}

// ValidateModel checks the settings the model client needs.
func (c Config) ValidateModel() error {
	var problems []string
	if c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
		problems = append(problems, "openai.api_key")
	}
	if c.OpenAI.Model == "" {
		problems = append(problems, "openai.model")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: missing required fields: %s",
			ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}
