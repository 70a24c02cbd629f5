package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ticketd/internal/domain"
	"ticketd/internal/metrics"
	logx "ticketd/pkg/logx"
)

const (
	DefaultEndpoint = "https://comensales.uncp.edu.pe/api/registros"
	DefaultReferer  = "https://comensales.uncp.edu.pe/"
	DefaultTimeout  = 10 * time.Second

	maxBodyBytes = 1 << 20
)

// Attempter performs one claim attempt. Implementations never return an
// error: every failure is a Result with StatusCode 500.
type Attempter interface {
	Attempt(ctx context.Context, id domain.Identity) Result
}

// AttempterFunc adapts a function to Attempter.
type AttempterFunc func(ctx context.Context, id domain.Identity) Result

func (f AttempterFunc) Attempt(ctx context.Context, id domain.Identity) Result { return f(ctx, id) }

type Config struct {
	Endpoint string
	Referer  string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Endpoint) == "" {
		c.Endpoint = DefaultEndpoint
	}
	if strings.TrimSpace(c.Referer) == "" {
		c.Referer = DefaultReferer
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Client posts claim requests to the upstream registration endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	metrics metrics.Sink
	log     logx.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithMetrics(m metrics.Sink) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg.withDefaults(),
		http:    &http.Client{},
		metrics: metrics.NewNoopSink(),
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(logx.String("comp", "claim"))
	return c
}

// registration mirrors the form the upstream web page submits.
type registration struct {
	ID       *int64 `json:"t1_id"`
	DNI      string `json:"t1_dni"`
	Code     string `json:"t1_codigo"`
	Names    string `json:"t1_nombres"`
	School   string `json:"t1_escuela"`
	State    *int   `json:"t1_estado"`
	PeriodID *int64 `json:"t3_periodos_t3_id"`
}

// Attempt posts a single claim. body.code is authoritative regardless of the
// HTTP status; anything unreadable collapses to 500.
func (c *Client) Attempt(ctx context.Context, id domain.Identity) Result {
	start := time.Now()
	res := c.attempt(ctx, id)
	res.Latency = time.Since(start)
	c.metrics.ClaimAttempt(res.Category().String(), res.Latency)
	if res.Succeeded() {
		c.log.Info("claim succeeded", logx.Int64("identity", id.ID), logx.String("ticket", res.ClaimCode), logx.Duration("latency", res.Latency))
	} else {
		c.log.Debug("claim attempt finished", logx.Int64("identity", id.ID), logx.Int("code", res.StatusCode), logx.Duration("latency", res.Latency))
	}
	return res
}

func (c *Client) attempt(ctx context.Context, id domain.Identity) Result {
	body, contentType, err := encodeForm(id)
	if err != nil {
		c.log.Warn("encode claim form failed", logx.Int64("identity", id.ID), logx.Err(err))
		return Failed(0)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		c.log.Warn("create claim request failed", logx.Err(err))
		return Failed(0)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Referer", c.cfg.Referer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("claim request failed", logx.Int64("identity", id.ID), logx.Err(err))
		return Failed(0)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Failed(0)
	}
	return decodeResult(raw)
}

func encodeForm(id domain.Identity) (*bytes.Buffer, string, error) {
	payload, err := json.Marshal(registration{DNI: id.ExternalID, Code: id.Secret})
	if err != nil {
		return nil, "", fmt.Errorf("marshal: %w", err)
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("data", string(payload)); err != nil {
		return nil, "", fmt.Errorf("write field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func decodeResult(raw []byte) Result {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil || body == nil {
		return Failed(0)
	}
	code, ok := parseCode(body["code"])
	if !ok {
		return Failed(0)
	}
	res := Result{StatusCode: code, Payload: body}
	if code == CodeSuccess {
		if s, ok := body["t2_codigo"].(string); ok {
			res.ClaimCode = s
		} else if n, ok := body["t2_codigo"].(json.Number); ok {
			res.ClaimCode = n.String()
		}
	}
	return res
}

func parseCode(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
