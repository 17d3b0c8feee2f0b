// Package sink talks to the backend that durably records incidents and
// stores uploaded evidence.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"safezone/internal/config"
	"safezone/internal/model"
)

var ErrDisabled = errors.New("sink: disabled")

type Client struct {
	baseURL      string
	incidentPath string
	uploadURL    string
	enabled      bool
	httpClient   *http.Client
	logger       *slog.Logger
}

type incidentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

func NewClient(cfg config.SinkConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.APIURL, "/")
	upload := cfg.UploadURL
	if upload == "" && base != "" {
		upload = base + "/upload"
	}
	path := cfg.IncidentPath
	if path == "" {
		path = "/incidents/create"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Client{
		baseURL:      base,
		incidentPath: path,
		uploadURL:    upload,
		enabled:      cfg.Enabled && base != "",
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// CreateIncident posts one incident. Failures are returned, never retried.
func (c *Client) CreateIncident(ctx context.Context, report model.IncidentReport) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("sink: failed to marshal incident: %w", err)
	}
	url := c.baseURL + c.incidentPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sink: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sink: incident request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sink: incident rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	// An empty 2xx body is an acceptance; a JSON body must say so.
	var out incidentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("sink: failed to decode response: %w", err)
		}
		out.Success = true
	}
	if !out.Success {
		return fmt.Errorf("sink: incident not accepted: %s", out.Message)
	}
	c.logger.Info("incident recorded", "type", report.Type, "trigger", report.TriggerType)
	return nil
}

// UploadEvidence sends an audio file as multipart field "audio" and returns
// the stored URL.
func (c *Client) UploadEvidence(ctx context.Context, filename string, r io.Reader) (string, error) {
	if !c.Enabled() || c.uploadURL == "" {
		return "", ErrDisabled
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("sink: failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("sink: failed to read evidence: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("sink: failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return "", fmt.Errorf("sink: failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sink: upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("sink: upload returned status %d", resp.StatusCode)
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("sink: failed to decode upload response: %w", err)
	}
	if !out.Success || out.URL == "" {
		return "", errors.New("sink: upload not accepted")
	}
	return out.URL, nil
}

// Report builds the sink body for an incident.
func Report(victimID string, inc model.Incident) model.IncidentReport {
	r := model.IncidentReport{
		VictimID:    victimID,
		Type:        inc.Kind,
		TriggerType: inc.Trigger,
		AudioURL:    inc.AudioURL,
	}
	if inc.Location != nil {
		r.Location = &model.ReportLocation{
			Latitude:  inc.Location.Latitude,
			Longitude: inc.Location.Longitude,
			Address:   "Emergency Location",
		}
	}
	return r
}
