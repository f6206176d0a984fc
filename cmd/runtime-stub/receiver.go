package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/api"
	"github.com/djlord-it/sitepulse/internal/dispatcher"
)

const (
	maxStored    = 50
	maxBodyBytes = 64 << 10
)

type receiverConfig struct {
	// Secret verifies X-Sitepulse-Signature; empty accepts unsigned dispatches.
	Secret string

	// CallbackURL is the sitepulse base URL. Empty or a zero CompleteAfter
	// leaves every run RUNNING, which is how stuck executions are simulated.
	CallbackURL    string
	CompleteAfter  time.Duration
	CompleteStatus string
}

type stats struct {
	Count     int64                `json:"count"`
	Completed int64                `json:"completed"`
	Last      []dispatcher.Payload `json:"last_dispatches"`
	Since     string               `json:"since"`
}

type receiver struct {
	cfg    receiverConfig
	client *http.Client
	logger *zap.SugaredLogger
	clock  func() time.Time

	mu        sync.Mutex
	count     int64
	completed int64
	last      []dispatcher.Payload
	since     time.Time
	wg        sync.WaitGroup
}

func newReceiver(cfg receiverConfig, logger *zap.SugaredLogger) *receiver {
	if cfg.CompleteStatus == "" {
		cfg.CompleteStatus = "completed"
	}
	return &receiver{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("runtime-stub"),
		clock:  time.Now,
		since:  time.Now().UTC(),
	}
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/dispatch" && r.Method == http.MethodPost:
		rc.dispatch(w, r)
	case r.URL.Path == "/stats" && r.Method == http.MethodGet:
		rc.stats(w)
	case r.URL.Path == "/reset" && r.Method == http.MethodPost:
		rc.reset(w)
	case r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	default:
		http.NotFound(w, r)
	}
}

func (rc *receiver) dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	defer r.Body.Close()
	if err != nil {
		writeReply(w, http.StatusBadRequest, "", "unreadable body")
		return
	}

	if rc.cfg.Secret != "" && !dispatcher.VerifySignature(rc.cfg.Secret, body, r.Header.Get(dispatcher.HeaderSignature)) {
		writeReply(w, http.StatusUnauthorized, "", "bad signature")
		return
	}

	var p dispatcher.Payload
	if err := json.Unmarshal(body, &p); err != nil || p.DispatchID == "" || p.Activity == "" || p.SiteID == "" {
		writeReply(w, http.StatusBadRequest, "", "malformed dispatch")
		return
	}

	rc.mu.Lock()
	rc.count++
	rc.last = append(rc.last, p)
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	n := rc.count
	rc.mu.Unlock()

	rc.logger.Infow("dispatch received",
		"n", n,
		"dispatch_id", p.DispatchID,
		"activity", p.Activity,
		"site_id", p.SiteID,
		"tier", p.Tier,
		"mode", p.Mode,
	)

	if rc.cfg.CallbackURL != "" && rc.cfg.CompleteAfter > 0 {
		rc.wg.Add(1)
		go func() {
			defer rc.wg.Done()
			time.Sleep(rc.cfg.CompleteAfter)
			if err := rc.complete(context.Background(), p); err != nil {
				rc.logger.Warnw("completion callback failed", "dispatch_id", p.DispatchID, "error", err)
			}
		}()
	}

	writeReply(w, http.StatusAccepted, "stub-"+p.DispatchID, "")
}

// complete reports the run's terminal status to sitepulse.
func (rc *receiver) complete(ctx context.Context, p dispatcher.Payload) error {
	body, err := json.Marshal(api.CompletionRequest{Status: rc.cfg.CompleteStatus})
	if err != nil {
		return errors.Wrap(err, "marshal completion")
	}

	endpoint := rc.cfg.CallbackURL + "/v1/executions/" + url.PathEscape(p.Activity) + "/" + url.PathEscape(p.SiteID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create completion request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send completion")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&e)
		return errors.Newf("sitepulse returned status %d: %s", resp.StatusCode, e.Error)
	}

	rc.mu.Lock()
	rc.completed++
	rc.mu.Unlock()
	return nil
}

func (rc *receiver) stats(w http.ResponseWriter) {
	rc.mu.Lock()
	s := stats{
		Count:     rc.count,
		Completed: rc.completed,
		Last:      append([]dispatcher.Payload{}, rc.last...),
		Since:     rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter) {
	rc.mu.Lock()
	rc.count = 0
	rc.completed = 0
	rc.last = nil
	rc.since = rc.clock().UTC()
	rc.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}

func writeReply(w http.ResponseWriter, status int, runID, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"run_id": runID, "reason": reason})
}
