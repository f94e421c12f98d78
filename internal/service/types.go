package service

import (
	"time"

	"liveness-eval/internal/artifact"
	"liveness-eval/internal/eval"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// InlineArtifact carries a base64 image payload directly in a run request,
// for callers that have no directory on the server host.
type InlineArtifact struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// RunRequest describes one evaluation batch. Either SourceDir (relative to
// the configured artifact root) or Artifacts must be set.
type RunRequest struct {
	SourceDir   string           `json:"source_dir,omitempty"`
	Kind        artifact.Kind    `json:"kind,omitempty"` // image | base64_text
	Artifacts   []InlineArtifact `json:"artifacts,omitempty"`
	UseSaaS     bool             `json:"use_saas"`
	SaaSAPIKey  string           `json:"saas_api_key,omitempty"`
	UseSDK      bool             `json:"use_sdk"`
	SDKPorts    []int            `json:"sdk_ports,omitempty"`
	SDKVersions []string         `json:"sdk_versions,omitempty"`
	Workers     int              `json:"workers,omitempty"`
	JPEGQuality bool             `json:"jpeg_quality,omitempty"`
}

type RunMeta struct {
	RunID         string     `json:"run_id"`
	Status        string     `json:"status"` // queued | running | completed | fail
	CreatorType   string     `json:"creator_type"`
	CreatorSub    string     `json:"creator_sub,omitempty"`
	Source        string     `json:"source"`
	Request       RunRequest `json:"request"`
	StartedAt     string     `json:"started_at,omitempty"`
	FinishedAt    string     `json:"finished_at,omitempty"`
	CreatedAt     string     `json:"created_at"`
	Error         string     `json:"error,omitempty"`
	Backends      []string   `json:"backends,omitempty"`
	Rows          []eval.Row `json:"rows,omitempty"`
	ReportPath    string     `json:"report_path,omitempty"`
	ArtifactCount int        `json:"artifact_count"`
	InvalidCount  int        `json:"invalid_count"`
	ErrorCells    int        `json:"error_cells"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	Detail    string `json:"detail,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt        string `json:"generated_at"`
	TotalRuns          int    `json:"total_runs"`
	RunningRuns        int    `json:"running_runs"`
	CompletedRuns      int    `json:"completed_runs"`
	FailedRuns         int    `json:"failed_runs"`
	ArtifactsEvaluated int    `json:"artifacts_evaluated"`
	InvalidArtifacts   int    `json:"invalid_artifacts"`
	ErrorCells         int    `json:"error_cells"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
