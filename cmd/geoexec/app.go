package main

import (
	"fmt"
	"io"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonwraymond/geoexec/extract"
	"github.com/jonwraymond/geoexec/internal/config"
	"github.com/jonwraymond/geoexec/internal/logging"
	"github.com/jonwraymond/geoexec/pipeline"
	"github.com/jonwraymond/geoexec/prompt"
	"github.com/jonwraymond/geoexec/runtime"
	"github.com/jonwraymond/geoexec/runtime/backend/docker"
	"github.com/jonwraymond/geoexec/runtime/backend/kubernetes"
	"github.com/jonwraymond/geoexec/runtime/backend/process"
	"github.com/jonwraymond/geoexec/toolset"
)

// app carries the loaded configuration and builds components on demand.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *logging.Logger
	output string
}

func newApp() *app {
	return &app{v: viper.New(), logger: logging.Nop(), output: outputJSON}
}

// bindFlags maps persistent flags onto configuration keys.
func (a *app) bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	for flag, key := range map[string]string{
		"backend":     "sandbox.backend",
		"profile":     "sandbox.profile",
		"timeout":     "sandbox.timeout",
		"model":       "openai.model",
		"result-name": "result_name",
		"log-level":   "log.level",
		"log-format":  "log.format",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
}

func (a *app) load(cmd *cobra.Command) error {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile, Viper: a.v})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// backend builds the configured sandbox backend.
func (a *app) backend() (runtime.Backend, error) {
	s := a.cfg.Sandbox
	switch s.Backend {
	case config.BackendDocker:
		return docker.New(docker.Config{
			ImageName:   s.Image,
			Runtime:     s.DockerRuntime,
			SeccompPath: s.SeccompProfile,
			Python:      s.Python,
			Client:      docker.NewCLIRunner(""),
			Logger:      a.logger,
		}), nil
	case config.BackendKubernetes:
		client, err := kubernetes.NewClientset(a.cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", runtime.ErrRuntimeUnavailable, err)
		}
		return kubernetes.New(kubernetes.Config{
			Namespace:        a.cfg.Kubernetes.Namespace,
			Image:            s.Image,
			RuntimeClassName: a.cfg.Kubernetes.RuntimeClass,
			SeccompLocalhost: s.SeccompProfile,
			Python:           s.Python,
			Client:           kubernetes.NewJobRunner(client),
			Logger:           a.logger,
		}), nil
	default:
		return process.New(process.Config{Python: s.Python, Logger: a.logger}), nil
	}
}

// runtime routes every profile to the configured backend.
func (a *app) runtime() (runtime.Runtime, error) {
	b, err := a.backend()
	if err != nil {
		return nil, err
	}
	return runtime.NewDefaultRuntime(runtime.RuntimeConfig{
		Backends: map[runtime.SecurityProfile]runtime.Backend{
			runtime.ProfileDev:      b,
			runtime.ProfileStandard: b,
			runtime.ProfileHardened: b,
		},
		DefaultProfile: runtime.SecurityProfile(a.cfg.Sandbox.Profile),
		Logger:         a.logger,
	}), nil
}

func (a *app) model() (*prompt.Orchestrator, error) {
	if err := a.cfg.ValidateModel(); err != nil {
		return nil, err
	}
	oc := openai.DefaultConfig(a.cfg.OpenAI.APIKey)
	if a.cfg.OpenAI.BaseURL != "" {
		oc.BaseURL = a.cfg.OpenAI.BaseURL
	}
	return prompt.New(openai.NewClientWithConfig(oc), prompt.Options{
		Model:          a.cfg.OpenAI.Model,
		AttemptTimeout: a.cfg.Prompt.AttemptTimeout,
		MaxAttempts:    a.cfg.Prompt.MaxAttempts,
		ResultName:     a.cfg.ResultName,
		Logger:         a.logger,
	}), nil
}

// pipeline builds a Pipeline. The model is attached only when withModel is set,
// so code-only commands work without credentials.
func (a *app) pipeline(withModel bool) (*pipeline.Pipeline, error) {
	rt, err := a.runtime()
	if err != nil {
		return nil, err
	}
	cfg := pipeline.Config{
		Runtime:    rt,
		Extractor:  &extract.Extractor{},
		ResultName: a.cfg.ResultName,
		Profile:    runtime.SecurityProfile(a.cfg.Sandbox.Profile),
		Timeout:    a.cfg.Sandbox.Timeout,
		Limits: runtime.Limits{
			CPUSeconds:  a.cfg.Sandbox.CPUSeconds,
			MemoryBytes: a.cfg.Sandbox.MemoryBytes,
			PidsMax:     a.cfg.Sandbox.Pids,
		},
		Logger: a.logger,
	}
	if withModel {
		m, err := a.model()
		if err != nil {
			return nil, err
		}
		cfg.Model = m
	}
	return pipeline.New(cfg)
}

func (a *app) toolset(withModel bool) (*toolset.Toolset, error) {
	p, err := a.pipeline(withModel)
	if err != nil {
		return nil, err
	}
	return toolset.New(toolset.Options{Pipeline: p, Logger: a.logger})
}

// readSource reads path, or stdin when path is "-".
func readSource(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
