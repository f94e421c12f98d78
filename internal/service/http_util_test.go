package service

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorPayloadShape(t *testing.T) {
	recorder := httptest.NewRecorder()
	writeError(recorder, 404, "run not found")

	if recorder.Code != 404 {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	var payload apiError
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Error != "run not found" || payload.Status != 404 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	request := httptest.NewRequest("POST", "/api/v1/admin/runs",
		strings.NewReader(`{"source_dir":"batch","bogus":true}`))
	var req RunRequest
	if err := decodeJSONBody(httptest.NewRecorder(), request, &req); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestDecodeJSONBodyLimitsSize(t *testing.T) {
	oversized := bytes.Repeat([]byte("a"), maxRequestBodyBytes+1)
	body := `{"source_dir":"` + string(oversized) + `"}`
	request := httptest.NewRequest("POST", "/api/v1/admin/runs", strings.NewReader(body))
	var req RunRequest
	err := decodeJSONBody(httptest.NewRecorder(), request, &req)
	if err == nil || err.Error() != "request body too large" {
		t.Fatalf("expected size cap error, got %v", err)
	}
}

func TestParseCursor(t *testing.T) {
	cases := []struct {
		query string
		want  int64
	}{
		{"", 0},
		{"cursor=7", 7},
		{"cursor=-3", 0},
		{"cursor=abc", 0},
	}
	for _, tc := range cases {
		request := httptest.NewRequest("GET", "/api/v1/admin/runs/x/events?"+tc.query, nil)
		if got := parseCursor(request); got != tc.want {
			t.Fatalf("query %q: expected %d, got %d", tc.query, tc.want, got)
		}
	}
}
