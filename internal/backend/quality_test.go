package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func qualityServiceResponse(quality *int, imageError string) map[string]any {
	analysis := map[string]any{}
	if imageError != "" {
		analysis["error"] = imageError
	} else {
		metrics := map[string]any{}
		if quality != nil {
			metrics["jpeg_quality"] = *quality
		}
		analysis["analysis"] = map[string]any{"quality_metrics": metrics}
	}
	return map[string]any{
		"success": true,
		"data":    map[string]any{"analyses": []any{analysis}},
	}
}

func TestQualityAnalyzeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		codes := body["base64_codes"]
		if len(codes) != 1 || !strings.HasPrefix(codes[0], "data:image/jpeg;base64,") {
			t.Errorf("expected one data-URL payload, got %v", codes)
		}
		q := 85
		_ = json.NewEncoder(w).Encode(qualityServiceResponse(&q, ""))
	}))
	defer server.Close()

	analyzer := NewQualityAnalyzer(server.URL, 5*time.Second)
	if got := analyzer.Analyze(context.Background(), testJPEG(t)); got != "85%" {
		t.Fatalf("expected 85%%, got %q", got)
	}
}

func TestQualityAnalyzeRejectsNonJPEG(t *testing.T) {
	analyzer := NewQualityAnalyzer("http://unused.invalid", 5*time.Second)
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if got := analyzer.Analyze(context.Background(), png); got != "Not a JPEG" {
		t.Fatalf("expected Not a JPEG, got %q", got)
	}
}

func TestQualityAnalyzeServiceFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "unsupported image"})
	}))
	defer server.Close()

	analyzer := NewQualityAnalyzer(server.URL, 5*time.Second)
	if got := analyzer.Analyze(context.Background(), testJPEG(t)); got != "Error: unsupported image" {
		t.Fatalf("unexpected cell %q", got)
	}
}

func TestQualityAnalyzePerImageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(qualityServiceResponse(nil, "decode failed"))
	}))
	defer server.Close()

	analyzer := NewQualityAnalyzer(server.URL, 5*time.Second)
	if got := analyzer.Analyze(context.Background(), testJPEG(t)); got != "Error: decode failed" {
		t.Fatalf("unexpected cell %q", got)
	}
}

func TestQualityAnalyzeMissingMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(qualityServiceResponse(nil, ""))
	}))
	defer server.Close()

	analyzer := NewQualityAnalyzer(server.URL, 5*time.Second)
	if got := analyzer.Analyze(context.Background(), testJPEG(t)); got != "Error: no quality data in response" {
		t.Fatalf("unexpected cell %q", got)
	}
}

func TestQualityAnalyzeHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	analyzer := NewQualityAnalyzer(server.URL, 5*time.Second)
	got := analyzer.Analyze(context.Background(), testJPEG(t))
	if !strings.HasPrefix(got, "Error: HTTP 503") {
		t.Fatalf("unexpected cell %q", got)
	}
}
