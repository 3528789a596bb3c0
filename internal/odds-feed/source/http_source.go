package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
)

// fetchResponse é o envelope devolvido pelo endpoint de polling do fornecedor.
type fetchResponse struct {
	Records []json.RawMessage `json:"records"`
	Cursor  string            `json:"cursor"`
}

// HTTPSource consulta o fornecedor via GET <endpoint>?cursor=<c>.
type HTTPSource struct {
	endpoint *url.URL
	client   *http.Client
	log      *zap.Logger
	clock    clock.Clock
}

// NewHTTPSource cria o adapter de polling HTTP.
func NewHTTPSource(endpoint string, opts ...Option) (*HTTPSource, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse provider endpoint: %w", err)
	}
	o := buildOptions(opts)
	return &HTTPSource{
		endpoint: u,
		client:   o.httpClient,
		log:      o.log.With(zap.String("component", "http_source")),
		clock:    o.clock,
	}, nil
}

// Fetch busca os registros posteriores ao cursor.
func (s *HTTPSource) Fetch(ctx context.Context, cursor Cursor) (Batch, error) {
	u := *s.endpoint
	if cursor != "" {
		q := u.Query()
		q.Set("cursor", string(cursor))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Batch{}, feederr.NewFatal("build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Batch{}, feederr.NewTransient("fetch", err)
	}
	defer resp.Body.Close()

	if err := s.classifyStatus(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Batch{}, err
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// corpo truncado é falha de rede; qualquer outra coisa é schema incompatível
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Batch{}, feederr.NewTransient("decode response", err)
		}
		return Batch{}, feederr.NewFatal("decode response", err)
	}

	now := s.clock.Now()
	records := make([]RawRecord, 0, len(out.Records))
	for _, r := range out.Records {
		records = append(records, RawRecord{Data: []byte(r), ReceivedAt: now})
	}

	next := Cursor(out.Cursor)
	if next == "" {
		next = cursor
	}

	s.log.Debug("fetched odds", zap.Int("records", len(records)), zap.String("cursor", string(next)))
	return Batch{Records: records, Next: next}, nil
}

func (s *HTTPSource) classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return feederr.NewRateLimited("fetch", parseRetryAfter(resp.Header.Get("Retry-After"), s.clock.Now()),
			fmt.Errorf("provider http %s", resp.Status))
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		code == http.StatusNotFound, code == http.StatusBadRequest,
		code == http.StatusUnprocessableEntity:
		return feederr.NewFatal("fetch", fmt.Errorf("provider http %s", resp.Status))
	default:
		return feederr.NewTransient("fetch", fmt.Errorf("provider http %s", resp.Status))
	}
}

// Close libera conexões ociosas do cliente HTTP.
func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// parseRetryAfter aceita segundos ou uma data HTTP.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
