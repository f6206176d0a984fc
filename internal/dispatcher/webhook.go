package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/circuitbreaker"
	"github.com/djlord-it/sitepulse/internal/domain"
)

const (
	HeaderDispatchID = "X-Sitepulse-Dispatch-ID"
	HeaderSignature  = "X-Sitepulse-Signature"

	defaultTimeout = 30 * time.Second
	maxReplyBytes  = 64 << 10
)

// WebhookConfig locates the runtime's intake endpoint.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Payload is the JSON body posted to the runtime.
type Payload struct {
	DispatchID         string `json:"dispatch_id"`
	Activity           string `json:"activity"`
	SiteID             string `json:"site_id"`
	Tier               string `json:"tier"`
	MaxConcurrency     int    `json:"max_concurrency"`
	MaxDurationSeconds int64  `json:"max_duration_seconds"`
	Mode               string `json:"mode"`
	IssuedAt           string `json:"issued_at"`
}

// PayloadFor renders req as the wire payload.
func PayloadFor(req domain.DispatchRequest) Payload {
	return Payload{
		DispatchID:         req.ID.String(),
		Activity:           req.ActivityKey,
		SiteID:             req.SiteID,
		Tier:               req.Tier.String(),
		MaxConcurrency:     req.Budget.MaxConcurrency,
		MaxDurationSeconds: int64(req.Budget.MaxDuration / time.Second),
		Mode:               string(req.Mode),
		IssuedAt:           req.IssuedAt.UTC().Format(time.RFC3339),
	}
}

type reply struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// Webhook posts signed dispatch requests to the runtime.
// 2xx accepts, 4xx rejects, anything else is a transport error.
type Webhook struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	metrics MetricsSink
	logger  *zap.SugaredLogger
}

func NewWebhook(cfg WebhookConfig, logger *zap.SugaredLogger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.Named("dispatcher"),
	}
}

// WithBreaker attaches a circuit breaker keyed by the endpoint URL.
func (w *Webhook) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Webhook {
	w.breaker = cb
	return w
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (w *Webhook) WithMetrics(sink MetricsSink) *Webhook {
	w.metrics = sink
	return w
}

// WithHTTPClient replaces the HTTP client.
func (w *Webhook) WithHTTPClient(c *http.Client) *Webhook {
	w.client = c
	return w
}

func (w *Webhook) Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchAck, error) {
	start := time.Now()
	ack, err := w.send(ctx, req)

	outcome := Classify(err)
	if w.metrics != nil {
		w.metrics.DispatchCompleted(req.ActivityKey, outcome, time.Since(start))
	}
	if w.breaker != nil && outcome != OutcomeCircuitOpen {
		// A 4xx means the runtime is up and answering.
		if outcome == OutcomeError {
			w.breaker.RecordFailure(w.cfg.URL)
		} else {
			w.breaker.RecordSuccess(w.cfg.URL)
		}
	}
	if err != nil {
		w.logger.Warnw("dispatch failed",
			"dispatch_id", req.ID.String(),
			"activity", req.ActivityKey,
			"site_id", req.SiteID,
			"outcome", outcome,
			"error", err,
		)
	}
	return ack, err
}

func (w *Webhook) send(ctx context.Context, req domain.DispatchRequest) (domain.DispatchAck, error) {
	if w.breaker != nil {
		if err := w.breaker.Allow(w.cfg.URL); err != nil {
			return domain.DispatchAck{Reason: "runtime circuit open"}, err
		}
	}

	body, err := json.Marshal(PayloadFor(req))
	if err != nil {
		return domain.DispatchAck{}, errors.Wrap(err, "marshal dispatch payload")
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return domain.DispatchAck{}, errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderDispatchID, req.ID.String())
	httpReq.Header.Set(HeaderSignature, ComputeSignature(w.cfg.Secret, body))

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return domain.DispatchAck{}, errors.Wrap(err, "send dispatch")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	var r reply
	_ = json.Unmarshal(raw, &r)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.DispatchAck{Accepted: true, ExternalRef: r.RunID}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := r.Reason
		if reason == "" {
			reason = strings.TrimSpace(string(raw))
		}
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return domain.DispatchAck{Reason: reason}, errors.Wrapf(ErrRejected, "status %d: %s", resp.StatusCode, reason)
	default:
		return domain.DispatchAck{}, errors.Newf("runtime returned status %d", resp.StatusCode)
	}
}

// ComputeSignature is the hex HMAC-SHA256 of body under secret.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for the runtime to verify incoming dispatches.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
