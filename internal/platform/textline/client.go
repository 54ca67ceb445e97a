package textline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stridelab/coach-backend/internal/pkg/envutil"
	"github.com/stridelab/coach-backend/internal/pkg/httpx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

// Client sends SMS through the provider's REST API. Delivery-side retries
// and webhooks live with the provider; this client only retries transport
// failures.
type Client interface {
	SendSMS(ctx context.Context, req SendSMSRequest) (*SendSMSResult, error)
}

type SendSMSRequest struct {
	To   string
	Body string
}

type SendSMSResult struct {
	ProviderID string
	Accepted   bool
}

type Config struct {
	APIKey     string
	BaseURL    string
	FromNumber string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("TEXTLINE_API_KEY", ""),
		BaseURL:    envutil.String("TEXTLINE_BASE_URL", "https://api.textline.dev"),
		FromNumber: envutil.String("TEXTLINE_FROM_NUMBER", ""),
		Timeout:    time.Duration(envutil.Int("TEXTLINE_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries: envutil.Int("TEXTLINE_MAX_RETRIES", 4),
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing TEXTLINE_API_KEY")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("missing TEXTLINE_FROM_NUMBER")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	return &client{
		log:        log.With("client", "TextlineClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

type sendPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *client) SendSMS(ctx context.Context, req SendSMSRequest) (*SendSMSResult, error) {
	if strings.TrimSpace(req.To) == "" {
		return nil, fmt.Errorf("missing destination number")
	}
	payload, err := json.Marshal(sendPayload{From: c.cfg.FromNumber, To: req.To, Body: req.Body})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := httpx.JitterSleep(time.Duration(attempt) * time.Second)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		res, err := c.sendOnce(ctx, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) {
			return nil, err
		}
		c.log.Warn("sms send failed, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("sms send exhausted retries: %w", lastErr)
}

func (c *client) sendOnce(ctx context.Context, payload []byte) (*SendSMSResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpx.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return &SendSMSResult{ProviderID: out.ID, Accepted: true}, nil
}
