package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"liveness-eval/internal/artifact"
	"liveness-eval/internal/backend"
	"liveness-eval/internal/eval"
	"liveness-eval/internal/report"
)

// RunManager queues evaluation runs and executes them on a bounded pool of
// workers. Each run fans its artifacts out across the configured backends and
// writes a Markdown report next to the stored row set.
type RunManager struct {
	cfg     Config
	store   Store
	obs     *Observability
	client  *backend.Client
	quality *backend.QualityAnalyzer
	queue   chan queuedRun
	wg      sync.WaitGroup
}

type RunnerService interface {
	CreateRun(request RunRequest, principal Principal, source string) (RunMeta, error)
}

type queuedRun struct {
	RunID       string
	Request     RunRequest
	Creator     Principal
	CreatorType string
	Source      string
}

func NewRunManager(cfg Config, store Store, obs *Observability) *RunManager {
	maxParallel := cfg.Eval.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 2
	}
	timeout := time.Duration(cfg.Backends.RequestTimeoutSec) * time.Second
	manager := &RunManager{
		cfg:     cfg,
		store:   store,
		obs:     obs,
		client:  backend.NewClient(timeout),
		quality: backend.NewQualityAnalyzer(cfg.Backends.QualityURL, timeout),
		queue:   make(chan queuedRun, maxParallel*8),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *RunManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *RunManager) CreateRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	request.SourceDir = strings.TrimSpace(request.SourceDir)
	if request.SourceDir == "" && len(request.Artifacts) == 0 {
		return RunMeta{}, errors.New("source_dir or artifacts required")
	}
	if request.SourceDir != "" && len(request.Artifacts) > 0 {
		return RunMeta{}, errors.New("source_dir and artifacts are mutually exclusive")
	}
	switch request.Kind {
	case "":
		if len(request.Artifacts) > 0 {
			request.Kind = artifact.KindBase64Text
		} else {
			request.Kind = artifact.KindImage
		}
	case artifact.KindImage, artifact.KindBase64Text:
	default:
		return RunMeta{}, fmt.Errorf("unknown artifact kind %q", request.Kind)
	}
	for _, inline := range request.Artifacts {
		if strings.TrimSpace(inline.Title) == "" {
			return RunMeta{}, errors.New("inline artifacts require a title")
		}
	}
	if request.Workers <= 0 {
		request.Workers = m.cfg.Eval.DefaultWorkers
	}

	targets, err := m.buildTargets(request)
	if err != nil {
		return RunMeta{}, err
	}

	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		Backends:    backend.Names(targets),
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "run queued", map[string]any{
		"source":   source,
		"backends": meta.Backends,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "run.create",
		Result:    "queued",
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

func (m *RunManager) buildTargets(request RunRequest) ([]backend.Target, error) {
	opts := backend.Options{
		UseSaaS:     request.UseSaaS,
		SaaSURL:     m.cfg.Backends.SaaSURL,
		SaaSAPIKey:  firstNonEmpty(request.SaaSAPIKey, m.cfg.Backends.SaaSAPIKey),
		UseSDK:      request.UseSDK,
		SDKBaseURL:  m.cfg.Backends.SDKBaseURL,
		SDKEndpoint: m.cfg.Backends.SDKEndpoint,
		SDKPorts:    request.SDKPorts,
		SDKVersions: request.SDKVersions,
	}
	return backend.BuildTargets(opts)
}

func (m *RunManager) worker() {
	for queued := range m.queue {
		m.executeRun(queued)
	}
}

func (m *RunManager) executeRun(queued queuedRun) {
	startedAt := nowRFC3339()
	start := time.Now()
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "start", "run started", nil)

	rows, backends, reportPath, validCount, invalidCount, err := m.evaluate(queued)
	finishedAt := nowRFC3339()
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
			meta.Status = "fail"
			meta.FinishedAt = finishedAt
			meta.Error = err.Error()
		})
		_, _ = m.store.AppendRunEvent(queued.RunID, "error", "run failed", map[string]any{"error": err.Error()})
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: finishedAt,
			RunID:     queued.RunID,
			ActorType: queued.CreatorType,
			ActorSub:  queued.Creator.Subject,
			Action:    "run.completed",
			Result:    "fail",
			Detail:    err.Error(),
		})
		m.obs.MarkRun(context.Background(), "fail")
		m.obs.MarkRunDuration(context.Background(), "fail", durationMS)
		return
	}

	errorCells := countErrorCells(rows)
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "completed"
		meta.FinishedAt = finishedAt
		meta.Rows = rows
		meta.Backends = backends
		meta.ReportPath = reportPath
		meta.ArtifactCount = validCount
		meta.InvalidCount = invalidCount
		meta.ErrorCells = errorCells
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "run completed", map[string]any{
		"artifacts":   validCount,
		"invalid":     invalidCount,
		"error_cells": errorCells,
		"report_path": reportPath,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: finishedAt,
		RunID:     queued.RunID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "run.completed",
		Result:    "completed",
		Detail:    fmt.Sprintf("artifacts=%d errors=%d", validCount, errorCells),
	})
	m.obs.MarkRun(context.Background(), "completed")
	m.obs.MarkRunDuration(context.Background(), "completed", durationMS)
	m.obs.MarkArtifacts(context.Background(), int64(validCount), int64(invalidCount))
}

func (m *RunManager) evaluate(queued queuedRun) (rows []eval.Row, backends []string, reportPath string, valid, invalid int, err error) {
	descriptors, cleanup, err := m.resolveArtifacts(queued.Request)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return nil, nil, "", 0, 0, err
	}

	validArtifacts, invalidArtifacts := artifact.ValidateBatch(descriptors)
	_, _ = m.store.AppendRunEvent(queued.RunID, "discover", "artifacts discovered", map[string]any{
		"valid":   len(validArtifacts),
		"invalid": len(invalidArtifacts),
	})
	for _, bad := range invalidArtifacts {
		_, _ = m.store.AppendRunEvent(queued.RunID, "invalid_artifact", "artifact rejected", map[string]any{
			"title": bad.Title,
		})
	}
	if len(validArtifacts) == 0 {
		return nil, nil, "", 0, len(invalidArtifacts), errors.New("no valid artifacts to evaluate")
	}

	targets, err := m.buildTargets(queued.Request)
	if err != nil {
		return nil, nil, "", 0, 0, err
	}

	reportPath, imageDir, err := report.ResolveOutputPath(filepath.Join(m.cfg.Eval.ReportDir, queued.RunID+".md"))
	if err != nil {
		return nil, nil, "", 0, 0, err
	}

	var quality *backend.QualityAnalyzer
	if queued.Request.JPEGQuality {
		quality = m.quality
	}
	orchestrator, err := eval.New(m.client, eval.Options{
		Targets:      targets,
		Workers:      queued.Request.Workers,
		TempImageDir: imageDir,
		Quality:      quality,
		OnEvent: func(event eval.Event) {
			_, _ = m.store.AppendRunEvent(queued.RunID, event.Stage, event.Message, event.Data)
			if event.Stage == "backend_result" {
				if outcome, ok := event.Data["status"].(string); ok && outcome == string(backend.StatusError) {
					if name, ok := event.Data["backend"].(string); ok {
						m.obs.MarkBackendError(context.Background(), name)
					}
				}
			}
		},
	})
	if err != nil {
		return nil, nil, "", 0, 0, err
	}

	rows = orchestrator.Run(context.Background(), validArtifacts)

	assembler := report.NewAssembler(reportPath)
	names := backend.Names(targets)
	if _, err := assembler.WriteMarkdown(rows, names); err != nil {
		return nil, nil, "", 0, 0, fmt.Errorf("write report: %w", err)
	}
	return rows, names, reportPath, len(validArtifacts), len(invalidArtifacts), nil
}

// resolveArtifacts turns the request into descriptors, either by scanning a
// directory under the configured artifact root or by spilling inline base64
// payloads to a temp directory. The returned cleanup removes the temp files.
func (m *RunManager) resolveArtifacts(request RunRequest) ([]artifact.Descriptor, func(), error) {
	if len(request.Artifacts) > 0 {
		dir, err := os.MkdirTemp("", "liveness-inline-")
		if err != nil {
			return nil, nil, fmt.Errorf("create inline artifact dir: %w", err)
		}
		cleanup := func() { _ = os.RemoveAll(dir) }
		descriptors := make([]artifact.Descriptor, 0, len(request.Artifacts))
		for _, inline := range request.Artifacts {
			name := sanitizeTitle(inline.Title) + ".txt"
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(inline.Payload), 0o644); err != nil {
				return nil, cleanup, fmt.Errorf("write inline artifact %s: %w", inline.Title, err)
			}
			descriptors = append(descriptors, artifact.Descriptor{
				Path:  path,
				Kind:  artifact.KindBase64Text,
				Title: inline.Title,
			})
		}
		return descriptors, cleanup, nil
	}

	root, err := filepath.Abs(m.cfg.Eval.ArtifactRoot)
	if err != nil {
		return nil, nil, err
	}
	resolved := filepath.Join(root, filepath.Clean("/"+request.SourceDir))
	if !strings.HasPrefix(resolved, root+string(os.PathSeparator)) && resolved != root {
		return nil, nil, errors.New("source_dir escapes artifact root")
	}
	descriptors, err := artifact.Discover(resolved, request.Kind)
	if err != nil {
		return nil, nil, err
	}
	return descriptors, nil, nil
}

func countErrorCells(rows []eval.Row) int {
	count := 0
	for _, row := range rows {
		for _, diagnostic := range row.Diagnostics {
			if strings.HasPrefix(diagnostic, "Error") || strings.HasPrefix(diagnostic, "Connection error") {
				count++
			}
		}
	}
	return count
}

func sanitizeTitle(title string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(title))
	if mapped == "" {
		mapped = "artifact"
	}
	return mapped
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
