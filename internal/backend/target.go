package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes the remote SaaS service from local SDK instances.
type Kind string

const (
	KindSaaS Kind = "saas"
	KindSDK  Kind = "sdk"
)

// Defaults injected into targets when the caller supplies nothing else.
const (
	DefaultSaaSURL     = "https://api.identity-platform.io/services/evaluatePassiveLivenessToken"
	DefaultSDKBaseURL  = "http://localhost:"
	DefaultSDKEndpoint = "/api/v1/selphid/passive-liveness/evaluate"

	MaxSDKTargets = 3
)

// Target is one configured liveness endpoint, immutable for the run.
type Target struct {
	Kind    Kind
	Name    string // display name used as the diagnostics column key
	URL     string
	APIKey  string // SaaS only
	Port    int    // SDK only
	Version string // SDK only
}

// Options describes the backend selection for one run.
type Options struct {
	UseSaaS     bool
	SaaSURL     string
	SaaSAPIKey  string
	UseSDK      bool
	SDKBaseURL  string
	SDKEndpoint string
	SDKPorts    []int
	SDKVersions []string
}

var (
	ErrNoBackends       = errors.New("at least one backend must be enabled")
	ErrSDKPortsRequired = errors.New("at least one SDK port is required")
	ErrTooManySDKPorts  = fmt.Errorf("at most %d SDK ports are allowed", MaxSDKTargets)
	ErrVersionMismatch  = errors.New("SDK version count must match port count")
	ErrInvalidPort      = errors.New("SDK port must be in range 1-65535")
)

// BuildTargets validates run preconditions and produces the ordered target
// list: SaaS first when enabled, then each SDK port in list order. Missing
// SDK version labels are synthesized as v1, v2, ...
func BuildTargets(opts Options) ([]Target, error) {
	if !opts.UseSaaS && !opts.UseSDK {
		return nil, ErrNoBackends
	}

	targets := make([]Target, 0, 1+len(opts.SDKPorts))
	if opts.UseSaaS {
		url := strings.TrimSpace(opts.SaaSURL)
		if url == "" {
			url = DefaultSaaSURL
		}
		targets = append(targets, Target{
			Kind:   KindSaaS,
			Name:   "SaaS",
			URL:    url,
			APIKey: opts.SaaSAPIKey,
		})
	}

	if opts.UseSDK {
		if len(opts.SDKPorts) == 0 {
			return nil, ErrSDKPortsRequired
		}
		if len(opts.SDKPorts) > MaxSDKTargets {
			return nil, ErrTooManySDKPorts
		}
		if len(opts.SDKVersions) > 0 && len(opts.SDKVersions) != len(opts.SDKPorts) {
			return nil, ErrVersionMismatch
		}
		baseURL := opts.SDKBaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = DefaultSDKBaseURL
		}
		endpoint := opts.SDKEndpoint
		if strings.TrimSpace(endpoint) == "" {
			endpoint = DefaultSDKEndpoint
		}
		for i, port := range opts.SDKPorts {
			if port < 1 || port > 65535 {
				return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
			}
			version := fmt.Sprintf("v%d", i+1)
			if len(opts.SDKVersions) > 0 && strings.TrimSpace(opts.SDKVersions[i]) != "" {
				version = strings.TrimSpace(opts.SDKVersions[i])
			}
			targets = append(targets, Target{
				Kind:    KindSDK,
				Name:    "SDK " + version,
				URL:     fmt.Sprintf("%s%d%s", baseURL, port, endpoint),
				Port:    port,
				Version: version,
			})
		}
	}

	return targets, nil
}

// Names returns the display names of targets in order, for use as the
// diagnostics column schema.
func Names(targets []Target) []string {
	out := make([]string, len(targets))
	for i, target := range targets {
		out[i] = target.Name
	}
	return out
}
