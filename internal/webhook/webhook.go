// Package webhook implements the outbound webhook dispatcher of spec §4.L:
// subscription matching, an SSRF check against the target URL, an HMAC-SHA256
// signed envelope, and bounded exponential-backoff retry on transport errors
// and 5xx. Signing mirrors the teacher's inbound HMAC verification in
// internal/githubapp/webhook.go, run in the other direction.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mdplane/internal/pathsec"
	"mdplane/internal/ssrf"
	"mdplane/internal/store"
)

const (
	maxRetries   = 4
	initialDelay = 200 * time.Millisecond
)

type Event struct {
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspaceId"`
	Path        string         `json:"path,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

type Dispatcher struct {
	store      *store.Store
	log        *zap.Logger
	httpClient *http.Client
	allowHTTP  bool
	resolver   ssrf.Resolver
}

func New(s *store.Store, log *zap.Logger, allowHTTP bool) *Dispatcher {
	return &Dispatcher{
		store:      s,
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		allowHTTP:  allowHTTP,
		resolver:   ssrf.DefaultResolver,
	}
}

// Dispatch enumerates matching subscriptions and fires each one in its own
// goroutine, fire-and-forget from the caller's perspective (spec §5:
// "outbound webhooks ... are fire-and-forget from the caller's perspective").
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	subs, err := d.store.ListWebhookSubscriptions(ctx, ev.WorkspaceID)
	if err != nil {
		if d.log != nil {
			d.log.Warn("webhook subscription lookup failed", zap.Error(err))
		}
		return
	}
	for _, sub := range subs {
		if !matches(sub, ev) {
			continue
		}
		go d.deliver(sub, ev)
	}
}

func matches(sub store.WebhookSubscription, ev Event) bool {
	if !eventFilterMatches(sub.EventFilter, ev.Type) {
		return false
	}
	if sub.FolderPath == "" {
		return true
	}
	if ev.Path == "" {
		return false
	}
	return pathsec.WithinFolder(ev.Path, pathsec.NormalizeFolder(sub.FolderPath))
}

func eventFilterMatches(filter, eventType string) bool {
	if filter == "" || filter == "*" {
		return true
	}
	for _, f := range strings.Split(filter, ",") {
		if strings.TrimSpace(f) == eventType {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliver(sub store.WebhookSubscription, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	dst, reason := ssrf.Check(sub.URL, ssrf.Policy{AllowHTTP: d.allowHTTP}, d.resolver)
	if reason != ssrf.ReasonOK {
		if d.log != nil {
			d.log.Warn("webhook blocked by ssrf filter", zap.String("subscription_id", sub.ID), zap.String("reason", string(reason)))
		}
		return
	}

	sig := sign(sub.Secret, body)
	delay := initialDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, dst.URL.String(), bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Mdplane-Signature", sig)
		req.Header.Set("X-Mdplane-Event", ev.Type)

		resp, err := d.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return
			}
		}
		if attempt == maxRetries {
			if d.log != nil {
				d.log.Warn("webhook delivery exhausted retries", zap.String("subscription_id", sub.ID))
			}
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
