package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"liveness-eval/internal/artifact"
	"liveness-eval/internal/backend"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func saasServer(t *testing.T, diagnostic string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"serviceResultLog": diagnostic})
	}))
}

func closedPortURL(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	url := "http://" + listener.Addr().String() + "/api/v1/selphid/passive-liveness/evaluate"
	listener.Close()
	return url
}

func TestRunSortsRowsAndKeepsSchemaStable(t *testing.T) {
	dir := t.TempDir()
	var descriptors []artifact.Descriptor
	for _, name := range []string{"charlie.png", "alpha.png", "bravo.png"} {
		path := writePNG(t, dir, name)
		descriptors = append(descriptors, artifact.Descriptor{
			Path:  path,
			Kind:  artifact.KindImage,
			Title: strings.TrimSuffix(name, ".png"),
		})
	}

	saas := saasServer(t, "REAL")
	defer saas.Close()

	targets := []backend.Target{
		{Kind: backend.KindSaaS, Name: "SaaS", URL: saas.URL},
		{Kind: backend.KindSDK, Name: "SDK v1", URL: closedPortURL(t), Port: 1},
	}
	imageDir := filepath.Join(t.TempDir(), "temp_images")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	orchestrator, err := New(backend.NewClient(2*time.Second), Options{
		Targets:      targets,
		Workers:      3,
		TempImageDir: imageDir,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rows := orchestrator.Run(context.Background(), descriptors)

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	wantOrder := []string{"alpha", "bravo", "charlie"}
	for i, title := range wantOrder {
		if rows[i].Title != title {
			t.Fatalf("expected row %d to be %q, got %q", i, title, rows[i].Title)
		}
	}
	for _, row := range rows {
		if len(row.Diagnostics) != 2 {
			t.Fatalf("expected every row to carry both backend columns, got %v", row.Diagnostics)
		}
		if row.Diagnostics["SaaS"] != "REAL" {
			t.Fatalf("expected SaaS diagnostic REAL, got %q", row.Diagnostics["SaaS"])
		}
		if !strings.HasPrefix(row.Diagnostics["SDK v1"], "Connection error") {
			t.Fatalf("expected SDK connection error, got %q", row.Diagnostics["SDK v1"])
		}
		if row.Resolution != "32 x 32" {
			t.Fatalf("expected resolution from decode, got %q", row.Resolution)
		}
	}
}

func TestRunCorruptArtifactYieldsRowNotFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(path, []byte("not a png at all"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	saas := saasServer(t, "REAL")
	defer saas.Close()

	orchestrator, err := New(backend.NewClient(2*time.Second), Options{
		Targets:      []backend.Target{{Kind: backend.KindSaaS, Name: "SaaS", URL: saas.URL}},
		TempImageDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rows := orchestrator.Run(context.Background(), []artifact.Descriptor{
		{Path: path, Kind: artifact.KindImage, Title: "broken"},
	})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Resolution != artifact.Unavailable || rows[0].Size != artifact.Unavailable {
		t.Fatalf("expected sentinel metadata, got %+v", rows[0])
	}
	// The payload still travels; the backend decides what an image is.
	if rows[0].Diagnostics["SaaS"] != "REAL" {
		t.Fatalf("expected backend call despite undecodable file, got %q", rows[0].Diagnostics["SaaS"])
	}
}

func TestRunMissingFileGetsErrorDiagnostics(t *testing.T) {
	saas := saasServer(t, "REAL")
	defer saas.Close()

	orchestrator, err := New(backend.NewClient(2*time.Second), Options{
		Targets:      []backend.Target{{Kind: backend.KindSaaS, Name: "SaaS", URL: saas.URL}},
		TempImageDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rows := orchestrator.Run(context.Background(), []artifact.Descriptor{
		{Path: filepath.Join(t.TempDir(), "gone.png"), Kind: artifact.KindImage, Title: "gone"},
	})
	if rows[0].Diagnostics["SaaS"] != "Error: could not obtain base64 image payload" {
		t.Fatalf("unexpected diagnostic %q", rows[0].Diagnostics["SaaS"])
	}
	if rows[0].ImagePath != artifact.Unavailable {
		t.Fatalf("expected sentinel image path, got %q", rows[0].ImagePath)
	}
}

func TestRunRequiresTargets(t *testing.T) {
	_, err := New(backend.NewClient(time.Second), Options{})
	if err == nil {
		t.Fatalf("expected error for empty target list")
	}
}

func TestRunEmitsEvents(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "face.png")
	saas := saasServer(t, "REAL")
	defer saas.Close()

	var mu sync.Mutex
	stages := map[string]int{}
	orchestrator, err := New(backend.NewClient(2*time.Second), Options{
		Targets:      []backend.Target{{Kind: backend.KindSaaS, Name: "SaaS", URL: saas.URL}},
		TempImageDir: t.TempDir(),
		OnEvent: func(event Event) {
			mu.Lock()
			stages[event.Stage]++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	orchestrator.Run(context.Background(), []artifact.Descriptor{
		{Path: path, Kind: artifact.KindImage, Title: "face"},
	})

	mu.Lock()
	defer mu.Unlock()
	if stages["artifact_start"] != 1 || stages["backend_result"] != 1 || stages["artifact_result"] != 1 {
		t.Fatalf("unexpected event counts %v", stages)
	}
}

func TestRunAddsQualityCells(t *testing.T) {
	dir := t.TempDir()
	jpegPath := filepath.Join(dir, "portrait.jpg")
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if err := os.WriteFile(jpegPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write jpeg: %v", err)
	}
	pngPath := writePNG(t, dir, "scan.png")

	saas := saasServer(t, "REAL")
	defer saas.Close()
	qualitySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{"analyses": []any{
				map[string]any{"analysis": map[string]any{"quality_metrics": map[string]any{"jpeg_quality": 90}}},
			}},
		})
	}))
	defer qualitySrv.Close()

	orchestrator, err := New(backend.NewClient(2*time.Second), Options{
		Targets:      []backend.Target{{Kind: backend.KindSaaS, Name: "SaaS", URL: saas.URL}},
		TempImageDir: t.TempDir(),
		Quality:      backend.NewQualityAnalyzer(qualitySrv.URL, 2*time.Second),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rows := orchestrator.Run(context.Background(), []artifact.Descriptor{
		{Path: jpegPath, Kind: artifact.KindImage, Title: "portrait"},
		{Path: pngPath, Kind: artifact.KindImage, Title: "scan"},
	})

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Quality != "90%" {
		t.Fatalf("expected JPEG quality cell, got %q", rows[0].Quality)
	}
	if rows[1].Quality != "Not a JPEG" {
		t.Fatalf("expected Not a JPEG for png, got %q", rows[1].Quality)
	}

	plain, err := New(backend.NewClient(2*time.Second), Options{
		Targets:      []backend.Target{{Kind: backend.KindSaaS, Name: "SaaS", URL: saas.URL}},
		TempImageDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rows = plain.Run(context.Background(), []artifact.Descriptor{
		{Path: jpegPath, Kind: artifact.KindImage, Title: "portrait"},
	})
	if rows[0].Quality != "" {
		t.Fatalf("expected no quality cell when disabled, got %q", rows[0].Quality)
	}
}
