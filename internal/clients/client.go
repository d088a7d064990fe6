// Package clients wraps the externally hosted classification and generation
// services. Every error returned is classified transient or permanent.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

const maxErrorBody = 4 << 10

// Option configures a client during construction.
type Option func(*base)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) {
		b.httpClient = c
	}
}

// WithLogger configures structured logging.
func WithLogger(l *zap.Logger) Option {
	return func(b *base) {
		b.logger = l
	}
}

type base struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

func newBase(url string, opts ...Option) (base, error) {
	if url == "" {
		return base{}, errors.New("clients: service url is required")
	}
	b := base{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b, nil
}

// postJSON sends body and decodes the response into dst. Call deadlines come
// from ctx.
func (b base) postJSON(ctx context.Context, op string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewPermanent(op, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewPermanent(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransient(op, err)
	}
	defer resp.Body.Close()

	b.logger.Debug("stage service response", zap.String("op", op), zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if apperrors.ClassifyStatus(resp.StatusCode) == apperrors.KindPermanent {
			return apperrors.NewPermanent(op, cause)
		}
		return apperrors.NewTransient(op, cause)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		if ctx.Err() != nil {
			return apperrors.NewTransient(op, ctx.Err())
		}
		return apperrors.NewPermanent(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
