// Package oracle talks to the content-generation service that writes readings and weekly reports.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/digkill/MoonPathBot/internal/config"
	"github.com/digkill/MoonPathBot/internal/metrics"
	"github.com/digkill/MoonPathBot/internal/models"
)

// GenericMessage is shown whenever the service gives no usable explanation.
const GenericMessage = "The moon's message is veiled at the moment. Please try again later."

const (
	endpointReading = "reading"
	endpointWeekly  = "weekly_report"

	maxResponseBytes = 1 << 20
)

// Error is a failed call. Message is safe to show to the user.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle: %s (status=%d): %v", e.Message, e.Status, e.Err)
	}
	return fmt.Sprintf("oracle: %s (status=%d)", e.Message, e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage extracts the user-facing text from err.
func UserMessage(err error) string {
	var oerr *Error
	if errors.As(err, &oerr) && oerr.Message != "" {
		return oerr.Message
	}
	return GenericMessage
}

type ReadingRequest struct {
	UserName    string             `json:"userName"`
	UserMood    models.Mood        `json:"userMood"`
	MoonPhase   models.MoonPhase   `json:"moonPhase"`
	CurrentPlan models.Plan        `json:"currentPlan"`
	ReadingType models.ReadingType `json:"readingType"`
}

type weeklyRequest struct {
	UserName string                   `json:"userName"`
	History  []models.HistoricReading `json:"history"`
}

type Client struct {
	apiKey     string
	readingURL string
	weeklyURL  string
	httpClient *http.Client
	metrics    *metrics.Collector
	log        *slog.Logger
}

func NewClient(cfg config.Config, m *metrics.Collector, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	base := strings.TrimRight(cfg.OracleBaseURL, "/")
	return &Client{
		apiKey:     cfg.OracleAPIKey,
		readingURL: base + ensureLeadingSlash(cfg.OracleReadingPath),
		weeklyURL:  base + ensureLeadingSlash(cfg.OracleWeeklyReportPath),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		log:        log,
	}
}

// GenerateReading asks for a reading of req.ReadingType. A response of the
// other variant or with missing fields is treated as a failure.
func (c *Client) GenerateReading(ctx context.Context, req ReadingRequest) (_ models.Reading, err error) {
	defer c.observe(endpointReading, time.Now(), &err)
	body, err := c.do(ctx, c.readingURL, req)
	if err != nil {
		return models.Reading{}, err
	}

	var reading models.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		return models.Reading{}, c.malformed(endpointReading, body, err)
	}
	if req.ReadingType != "" && reading.Type() != req.ReadingType {
		return models.Reading{}, c.malformed(endpointReading, body, fmt.Errorf("asked for %s reading, got %s", req.ReadingType, reading.Type()))
	}
	if err := reading.Validate(); err != nil {
		return models.Reading{}, c.malformed(endpointReading, body, err)
	}
	return reading, nil
}

func (c *Client) GenerateWeeklyReport(ctx context.Context, userName string, history []models.HistoricReading) (_ models.WeeklyReport, err error) {
	defer c.observe(endpointWeekly, time.Now(), &err)
	body, err := c.do(ctx, c.weeklyURL, weeklyRequest{UserName: userName, History: history})
	if err != nil {
		return models.WeeklyReport{}, err
	}

	var report models.WeeklyReport
	if err := json.Unmarshal(body, &report); err != nil {
		return models.WeeklyReport{}, c.malformed(endpointWeekly, body, err)
	}
	if !report.Complete() {
		return models.WeeklyReport{}, c.malformed(endpointWeekly, body, errors.New("incomplete weekly report"))
	}
	return report, nil
}

// observe records the call once its response has been decoded and validated.
func (c *Client) observe(endpoint string, start time.Time, err *error) {
	c.metrics.ObserveOracle(endpoint, *err == nil, time.Since(start))
}

func (c *Client) do(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Message: GenericMessage, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Message: GenericMessage, Err: fmt.Errorf("new request: %w", err)}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("oracle request failed", "url", url, "err", err)
		return nil, &Error{Message: GenericMessage, Err: err}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: GenericMessage, Err: fmt.Errorf("read response body: %w", err)}
	}
	if len(rawBody) > maxResponseBytes {
		c.log.Error("oracle response too large", "url", url, "status", resp.StatusCode)
		return nil, &Error{Status: resp.StatusCode, Message: GenericMessage, Err: fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)}
	}

	if resp.StatusCode >= 300 {
		c.log.Error("oracle returned error status", "status", resp.StatusCode, "url", url, "body", truncateBody(rawBody))
		return nil, &Error{Status: resp.StatusCode, Message: errorMessage(rawBody)}
	}
	if msg := gjson.GetBytes(rawBody, "error"); msg.Exists() {
		c.log.Error("oracle returned error payload", "url", url, "body", truncateBody(rawBody))
		return nil, &Error{Status: resp.StatusCode, Message: errorMessage(rawBody)}
	}
	return rawBody, nil
}

func (c *Client) malformed(endpoint string, body []byte, err error) error {
	c.log.Error("oracle response rejected", "endpoint", endpoint, "body", truncateBody(body), "err", err)
	return &Error{Status: http.StatusOK, Message: GenericMessage, Err: err}
}

// errorMessage reads {"error": "..."} from body, tolerating anything else.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return GenericMessage
	}
	msg := gjson.GetBytes(body, "error")
	if msg.Type != gjson.String || strings.TrimSpace(msg.String()) == "" {
		return GenericMessage
	}
	return msg.String()
}

func ensureLeadingSlash(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
