package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"liveness-eval/internal/artifact"
	"liveness-eval/internal/backend"
	"liveness-eval/internal/eval"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 5), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testManagerConfig(t *testing.T, saasURL string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backends.SaaSURL = saasURL
	cfg.Backends.RequestTimeoutSec = 5
	cfg.Eval.ArtifactRoot = filepath.Join(t.TempDir(), "artifacts")
	cfg.Eval.ReportDir = filepath.Join(t.TempDir(), "reports")
	cfg.Eval.MaxParallelRuns = 1
	return cfg
}

func waitForStatus(t *testing.T, store Store, runID string, want string) RunMeta {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		meta, ok := store.GetRun(runID)
		if ok && meta.Status == want {
			return meta
		}
		if ok && meta.Status == "fail" && want != "fail" {
			t.Fatalf("run failed: %s", meta.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
	return RunMeta{}
}

func TestRunManagerDirectoryRun(t *testing.T) {
	saas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"serviceResultLog": "REAL"})
	}))
	defer saas.Close()

	cfg := testManagerConfig(t, saas.URL)
	batchDir := filepath.Join(cfg.Eval.ArtifactRoot, "batch1")
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw := testPNG(t)
	for _, name := range []string{"beta.png", "alpha.png"} {
		if err := os.WriteFile(filepath.Join(batchDir, name), raw, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	store, _ := NewMemoryFileStore("")
	manager := NewRunManager(cfg, store, nil)
	defer manager.Shutdown()

	meta, err := manager.CreateRun(RunRequest{
		SourceDir: "batch1",
		Kind:      "image",
		UseSaaS:   true,
	}, Principal{Subject: "tester", Role: "admin"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if meta.Status != "queued" {
		t.Fatalf("expected queued, got %s", meta.Status)
	}

	done := waitForStatus(t, store, meta.RunID, "completed")
	if done.ArtifactCount != 2 || done.InvalidCount != 0 {
		t.Fatalf("unexpected counts %+v", done)
	}
	if len(done.Rows) != 2 || done.Rows[0].Title != "alpha" || done.Rows[1].Title != "beta" {
		t.Fatalf("expected sorted rows, got %+v", done.Rows)
	}
	if done.Rows[0].Diagnostics["SaaS"] != "REAL" {
		t.Fatalf("unexpected diagnostic %q", done.Rows[0].Diagnostics["SaaS"])
	}
	if done.ErrorCells != 0 {
		t.Fatalf("expected no error cells, got %d", done.ErrorCells)
	}
	content, err := os.ReadFile(done.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Contains(content, []byte("Diagnostic SaaS")) {
		t.Fatalf("report missing backend column")
	}

	events := store.ListRunEvents(meta.RunID, 0)
	if len(events) < 4 {
		t.Fatalf("expected run events, got %d", len(events))
	}
}

func TestRunManagerInlineArtifacts(t *testing.T) {
	saas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"serviceResultLog": "FAKE"})
	}))
	defer saas.Close()

	cfg := testManagerConfig(t, saas.URL)
	store, _ := NewMemoryFileStore("")
	manager := NewRunManager(cfg, store, nil)
	defer manager.Shutdown()

	payload := base64.StdEncoding.EncodeToString(testPNG(t))
	meta, err := manager.CreateRun(RunRequest{
		Artifacts: []InlineArtifact{
			{Title: "subject one", Payload: payload},
			{Title: "garbled", Payload: "!!!not-base64"},
		},
		UseSaaS: true,
	}, Principal{Subject: "tester", Role: "admin"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}

	done := waitForStatus(t, store, meta.RunID, "completed")
	if done.ArtifactCount != 1 || done.InvalidCount != 1 {
		t.Fatalf("expected 1 valid and 1 invalid, got %+v", done)
	}
	if len(done.Rows) != 1 || done.Rows[0].Diagnostics["SaaS"] != "FAKE" {
		t.Fatalf("unexpected rows %+v", done.Rows)
	}
}

func TestRunManagerFailsWithoutValidArtifacts(t *testing.T) {
	cfg := testManagerConfig(t, "http://unused.invalid")
	store, _ := NewMemoryFileStore("")
	manager := NewRunManager(cfg, store, nil)
	defer manager.Shutdown()

	meta, err := manager.CreateRun(RunRequest{
		Artifacts: []InlineArtifact{{Title: "bad", Payload: "nope"}},
		UseSaaS:   true,
	}, Principal{Subject: "tester"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	done := waitForStatus(t, store, meta.RunID, "fail")
	if done.Error == "" {
		t.Fatalf("expected failure reason")
	}
}

func TestCreateRunValidation(t *testing.T) {
	cfg := testManagerConfig(t, "http://unused.invalid")
	store, _ := NewMemoryFileStore("")
	manager := NewRunManager(cfg, store, nil)
	defer manager.Shutdown()

	cases := []struct {
		name    string
		request RunRequest
	}{
		{"no source", RunRequest{UseSaaS: true}},
		{"both sources", RunRequest{SourceDir: "x", Artifacts: []InlineArtifact{{Title: "a", Payload: "b"}}, UseSaaS: true}},
		{"unknown kind", RunRequest{SourceDir: "x", Kind: "video", UseSaaS: true}},
		{"no backend", RunRequest{SourceDir: "x"}},
		{"sdk without ports", RunRequest{SourceDir: "x", UseSDK: true}},
		{"untitled inline", RunRequest{Artifacts: []InlineArtifact{{Payload: "b"}}, UseSaaS: true}},
	}
	for _, tc := range cases {
		if _, err := manager.CreateRun(tc.request, Principal{Subject: "tester"}, "admin.manual"); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	_, err := manager.CreateRun(RunRequest{SourceDir: "x", UseSDK: true}, Principal{}, "admin.manual")
	if !errors.Is(err, backend.ErrSDKPortsRequired) {
		t.Fatalf("expected ErrSDKPortsRequired, got %v", err)
	}
}

func TestCreateRunDefaultsKind(t *testing.T) {
	cfg := testManagerConfig(t, "http://unused.invalid")
	store, _ := NewMemoryFileStore("")
	manager := NewRunManager(cfg, store, nil)
	defer manager.Shutdown()

	inline, err := manager.CreateRun(RunRequest{
		Artifacts: []InlineArtifact{{Title: "subject", Payload: "nope"}},
		UseSaaS:   true,
	}, Principal{Subject: "tester"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if inline.Request.Kind != artifact.KindBase64Text {
		t.Fatalf("expected inline default %q, got %q", artifact.KindBase64Text, inline.Request.Kind)
	}

	dir, err := manager.CreateRun(RunRequest{
		SourceDir: "batch",
		UseSaaS:   true,
	}, Principal{Subject: "tester"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if dir.Request.Kind != artifact.KindImage {
		t.Fatalf("expected directory default %q, got %q", artifact.KindImage, dir.Request.Kind)
	}
}

func TestCreateRunRejectsEscapingSourceDir(t *testing.T) {
	cfg := testManagerConfig(t, "http://unused.invalid")
	store, _ := NewMemoryFileStore("")
	manager := NewRunManager(cfg, store, nil)
	defer manager.Shutdown()

	meta, err := manager.CreateRun(RunRequest{
		SourceDir: "../outside",
		UseSaaS:   true,
	}, Principal{Subject: "tester"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	// Traversal is resolved inside the artifact root, so the run fails on a
	// missing directory rather than reading outside it.
	done := waitForStatus(t, store, meta.RunID, "fail")
	if done.Error == "" {
		t.Fatalf("expected failure for escaping source dir")
	}
}

func TestCountErrorCells(t *testing.T) {
	rows := []eval.Row{
		{Diagnostics: map[string]string{"SaaS": "REAL", "SDK v1": "Error: HTTP 500"}},
		{Diagnostics: map[string]string{"SaaS": "Connection error: could not reach host", "SDK v1": "FAKE"}},
		{Diagnostics: map[string]string{"SaaS": "No result"}},
	}
	if got := countErrorCells(rows); got != 2 {
		t.Fatalf("expected 2 error cells, got %d", got)
	}
}
