package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Status of one (artifact, backend) evaluation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Outcome is the normalized result of one evaluation call.
type Outcome struct {
	Status     Status
	Diagnostic string
}

const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultPortCheckTimeout = 2 * time.Second

	// Non-200 response bodies are truncated to this many bytes when no
	// parseable message field is available.
	maxErrorBodyLength = 200
)

// Client is a stateless protocol adapter for SaaS and SDK liveness backends.
// One evaluation per call; retries are the caller's problem and the caller
// never retries.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type saasRequest struct {
	ImageBuffer string `json:"imageBuffer"`
}

type saasResponse struct {
	ServiceResultLog string `json:"serviceResultLog"`
}

type sdkRequest struct {
	Image string `json:"image"`
}

type sdkResponse struct {
	Diagnostic string `json:"diagnostic"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Evaluate sends one liveness evaluation request to target and maps the HTTP
// outcome to a diagnostic string. Network and protocol failures become Error
// outcomes, never returned errors.
func (c *Client) Evaluate(ctx context.Context, payloadBase64 string, target Target) Outcome {
	if strings.TrimSpace(payloadBase64) == "" {
		return Outcome{Status: StatusError, Diagnostic: "Error: could not obtain base64 image payload"}
	}

	var body any
	if target.Kind == KindSaaS {
		body = saasRequest{ImageBuffer: payloadBase64}
	} else {
		body = sdkRequest{Image: payloadBase64}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return Outcome{Status: StatusError, Diagnostic: "Error: " + err.Error()}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(encoded))
	if err != nil {
		return Outcome{Status: StatusError, Diagnostic: "Error: " + err.Error()}
	}
	request.Header.Set("Content-Type", "application/json")
	if target.Kind == KindSaaS {
		request.Header.Set("x-api-key", target.APIKey)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return Outcome{Status: StatusError, Diagnostic: classifyTransportError(err, target)}
	}
	defer response.Body.Close()

	responseBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return Outcome{Status: StatusError, Diagnostic: "Error: " + readErr.Error()}
	}

	if response.StatusCode != http.StatusOK {
		return Outcome{Status: StatusError, Diagnostic: classifyHTTPError(response.StatusCode, responseBody)}
	}

	if target.Kind == KindSaaS {
		var parsed saasResponse
		if err := json.Unmarshal(responseBody, &parsed); err != nil || strings.TrimSpace(parsed.ServiceResultLog) == "" {
			return Outcome{Status: StatusSuccess, Diagnostic: "No result"}
		}
		return Outcome{Status: StatusSuccess, Diagnostic: parsed.ServiceResultLog}
	}
	var parsed sdkResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil || strings.TrimSpace(parsed.Diagnostic) == "" {
		return Outcome{Status: StatusSuccess, Diagnostic: "No diagnostic"}
	}
	return Outcome{Status: StatusSuccess, Diagnostic: parsed.Diagnostic}
}

func classifyHTTPError(statusCode int, body []byte) string {
	message := "HTTP " + strconv.Itoa(statusCode)
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Message) != "" {
		return fmt.Sprintf("Error: %s - %s", message, parsed.Message)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyLength {
		text = text[:maxErrorBodyLength]
	}
	if text == "" {
		return "Error: " + message
	}
	return fmt.Sprintf("Error: %s - %s", message, text)
}

func classifyTransportError(err error, target Target) string {
	service := "SaaS"
	if target.Kind == KindSDK {
		service = "SDK"
	}
	switch {
	case isTimeout(err):
		return fmt.Sprintf("Error: timeout contacting the %s service", service)
	case isConnectionRefused(err):
		if target.Kind == KindSDK {
			return fmt.Sprintf("Connection error: could not reach %s; check that the service is listening on that port", target.URL)
		}
		return "Error: could not connect to the SaaS service"
	default:
		return "Error: " + err.Error()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// PortOpen probes TCP reachability of host:port. Used only for pre-flight
// warnings; a closed port never gates the run.
func PortOpen(host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultPortCheckTimeout
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
