package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"liveness-eval/internal/backend"
)

type Config struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Backends   BackendConfig       `json:"backends" yaml:"backends"`
	Eval       EvalConfig          `json:"eval" yaml:"eval"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

// BackendConfig holds the injected backend defaults; request-level settings
// override them per run.
type BackendConfig struct {
	SaaSURL             string `json:"saas_url" yaml:"saas_url"`
	SaaSAPIKey          string `json:"saas_api_key" yaml:"saas_api_key"`
	SDKBaseURL          string `json:"sdk_base_url" yaml:"sdk_base_url"`
	SDKEndpoint         string `json:"sdk_endpoint" yaml:"sdk_endpoint"`
	QualityURL          string `json:"quality_url" yaml:"quality_url"`
	RequestTimeoutSec   int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
	PortCheckTimeoutSec int    `json:"port_check_timeout_sec" yaml:"port_check_timeout_sec"`
}

type EvalConfig struct {
	DefaultWorkers  int    `json:"default_workers" yaml:"default_workers"`
	MaxParallelRuns int    `json:"max_parallel_runs" yaml:"max_parallel_runs"`
	ArtifactRoot    string `json:"artifact_root" yaml:"artifact_root"`
	ReportDir       string `json:"report_dir" yaml:"report_dir"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "liveness_session",
		},
		Backends: BackendConfig{
			SaaSURL:             backend.DefaultSaaSURL,
			SDKBaseURL:          backend.DefaultSDKBaseURL,
			SDKEndpoint:         backend.DefaultSDKEndpoint,
			QualityURL:          backend.DefaultQualityURL,
			RequestTimeoutSec:   30,
			PortCheckTimeoutSec: 2,
		},
		Eval: EvalConfig{
			DefaultWorkers:  5,
			MaxParallelRuns: 2,
			ArtifactRoot:    "./artifacts",
			ReportDir:       "./reports",
		},
		Observer: ObservabilityConfig{
			ServiceName: "liveness-api",
			SampleRatio: 1,
		},
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "liveness_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if strings.TrimSpace(cfg.Backends.SaaSURL) == "" {
		cfg.Backends.SaaSURL = backend.DefaultSaaSURL
	}
	if strings.TrimSpace(cfg.Backends.SDKBaseURL) == "" {
		cfg.Backends.SDKBaseURL = backend.DefaultSDKBaseURL
	}
	if strings.TrimSpace(cfg.Backends.SDKEndpoint) == "" {
		cfg.Backends.SDKEndpoint = backend.DefaultSDKEndpoint
	}
	if strings.TrimSpace(cfg.Backends.QualityURL) == "" {
		cfg.Backends.QualityURL = backend.DefaultQualityURL
	}
	if cfg.Backends.RequestTimeoutSec <= 0 {
		cfg.Backends.RequestTimeoutSec = 30
	}
	if cfg.Backends.PortCheckTimeoutSec <= 0 {
		cfg.Backends.PortCheckTimeoutSec = 2
	}
	if cfg.Eval.DefaultWorkers <= 0 {
		cfg.Eval.DefaultWorkers = 5
	}
	if cfg.Eval.MaxParallelRuns <= 0 {
		cfg.Eval.MaxParallelRuns = 2
	}
	if strings.TrimSpace(cfg.Eval.ArtifactRoot) == "" {
		cfg.Eval.ArtifactRoot = "./artifacts"
	}
	if strings.TrimSpace(cfg.Eval.ReportDir) == "" {
		cfg.Eval.ReportDir = "./reports"
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "liveness-api"
	}
}
