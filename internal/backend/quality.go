package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultQualityURL is the external JPEG compression-quality analysis service.
const DefaultQualityURL = "https://send.up.railway.app/v1/analyze/quality"

// QualityAnalyzer estimates the JPEG compression quality of an image through
// an external analysis service. Results are display strings for the report
// quality column; failures degrade to error text, never to returned errors.
type QualityAnalyzer struct {
	url  string
	http *http.Client
}

func NewQualityAnalyzer(url string, timeout time.Duration) *QualityAnalyzer {
	if strings.TrimSpace(url) == "" {
		url = DefaultQualityURL
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &QualityAnalyzer{
		url: url,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type qualityRequest struct {
	Base64Codes []string `json:"base64_codes"`
}

type qualityResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Analyses []qualityAnalysis `json:"analyses"`
	} `json:"data"`
}

type qualityAnalysis struct {
	Error    string `json:"error"`
	Analysis struct {
		QualityMetrics struct {
			JPEGQuality *float64 `json:"jpeg_quality"`
		} `json:"quality_metrics"`
	} `json:"analysis"`
}

// Analyze returns the quality cell for one image: "NN%" on success,
// "Not a JPEG" for other formats, error text otherwise.
func (a *QualityAnalyzer) Analyze(ctx context.Context, raw []byte) string {
	if !isJPEGBytes(raw) {
		return "Not a JPEG"
	}

	payload := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
	encoded, err := json.Marshal(qualityRequest{Base64Codes: []string{payload}})
	if err != nil {
		return "Error: " + err.Error()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(encoded))
	if err != nil {
		return "Error: " + err.Error()
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := a.http.Do(request)
	if err != nil {
		if isTimeout(err) {
			return "Error: timeout contacting the quality service"
		}
		return "Error: " + err.Error()
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return "Error: " + readErr.Error()
	}
	if response.StatusCode != http.StatusOK {
		return classifyHTTPError(response.StatusCode, body)
	}

	var parsed qualityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "Error: " + err.Error()
	}
	if !parsed.Success {
		message := strings.TrimSpace(parsed.Message)
		if message == "" {
			message = "quality service reported a failure"
		}
		return "Error: " + message
	}
	if len(parsed.Data.Analyses) == 0 {
		return "Error: no quality data in response"
	}
	analysis := parsed.Data.Analyses[0]
	if analysis.Error != "" {
		return "Error: " + analysis.Error
	}
	quality := analysis.Analysis.QualityMetrics.JPEGQuality
	if quality == nil {
		return "Error: no quality data in response"
	}
	return fmt.Sprintf("%d%%", int(*quality))
}

func isJPEGBytes(raw []byte) bool {
	return len(raw) >= 3 && raw[0] == 0xFF && raw[1] == 0xD8 && raw[2] == 0xFF
}
