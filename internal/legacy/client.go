package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/httpx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type Config struct {
	APIKey     string
	BaseID     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	// PageSize bounds one List page; the API caps it at 100.
	PageSize int
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("LEGACY_API_KEY", ""),
		BaseID:     envutil.String("LEGACY_BASE_ID", ""),
		BaseURL:    envutil.String("LEGACY_BASE_URL", "https://api.airtable.com"),
		Timeout:    envutil.Duration("LEGACY_TIMEOUT", 20*time.Second),
		MaxRetries: envutil.Int("LEGACY_MAX_RETRIES", 3),
		RetryBase:  envutil.Duration("LEGACY_RETRY_BASE", time.Second),
		PageSize:   envutil.Int("LEGACY_PAGE_SIZE", 100),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("missing LEGACY_API_KEY")
	}
	if strings.TrimSpace(c.BaseID) == "" {
		return fmt.Errorf("missing LEGACY_BASE_ID")
	}
	return nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.airtable.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	return &client{
		log:        log.With("client", "LegacyStore"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

type writeRequest struct {
	Fields   map[string]any `json:"fields"`
	Typecast bool           `json:"typecast"`
}

type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *client) List(ctx context.Context, table string, f Filter) ([]Record, error) {
	var out []Record
	offset := ""
	for {
		q := url.Values{}
		if formula := f.Formula(); formula != "" {
			q.Set("filterByFormula", formula)
		}
		if f.MaxRecords > 0 {
			q.Set("maxRecords", strconv.Itoa(f.MaxRecords))
		}
		q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
		if offset != "" {
			q.Set("offset", offset)
		}

		var page listResponse
		if err := c.do(ctx, http.MethodGet, c.tablePath(table, "")+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if page.Offset == "" || (f.MaxRecords > 0 && len(out) >= f.MaxRecords) {
			break
		}
		offset = page.Offset
	}
	if f.MaxRecords > 0 && len(out) > f.MaxRecords {
		out = out[:f.MaxRecords]
	}
	return out, nil
}

func (c *client) Create(ctx context.Context, table string, fields map[string]any) (*Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodPost, c.tablePath(table, ""), writeRequest{Fields: fields, Typecast: true}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *client) Update(ctx context.Context, table, id string, fields map[string]any) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("legacy: update %s: empty record id", table)
	}
	var rec Record
	if err := c.do(ctx, http.MethodPatch, c.tablePath(table, id), writeRequest{Fields: fields, Typecast: true}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *client) Delete(ctx context.Context, table, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("legacy: delete %s: empty record id", table)
	}
	return c.do(ctx, http.MethodDelete, c.tablePath(table, id), nil, nil)
}

func (c *client) tablePath(table, id string) string {
	p := "/v0/" + url.PathEscape(c.cfg.BaseID) + "/" + url.PathEscape(table)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := c.cfg.RetryBase
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.cfg.MaxRetries {
			return err
		}

		// the API rate limits per base at 5 req/s and asks for 30s on 429
		sleepFor := httpx.RetryAfterDuration(resp, backoff, 30*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)
		c.log.Warn("legacy request retrying",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
	return errors.New("unreachable retry loop")
}

func (c *client) doOnce(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, decodeStatusError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp, fmt.Errorf("legacy: decode %s %s: %w", method, path, err)
	}
	return resp, nil
}

// decodeStatusError accepts both error shapes the API uses: a bare string
// ("NOT_FOUND") or an object with type and message.
func decodeStatusError(status int, raw []byte) error {
	se := &StatusError{StatusCode: status, Body: string(raw)}
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err != nil || len(er.Error) == 0 {
		return se
	}
	var s string
	if err := json.Unmarshal(er.Error, &s); err == nil {
		se.Type = s
		return se
	}
	var d errorDetail
	if err := json.Unmarshal(er.Error, &d); err == nil {
		se.Type = d.Type
		se.Message = d.Message
	}
	return se
}
