// Package webhook authenticates and deduplicates asynchronous gateway
// events before they reach the reconciler.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// Rejection reasons. Callers must respond generically; reasons are for
// logs and metrics only.
const (
	ReasonSourceIP  = "source_ip"
	ReasonRateLimit = "rate_limit"
	ReasonSignature = "signature"
	ReasonMalformed = "malformed"
)

// Event types the reconciler understands. Anything else is acknowledged
// without reconciliation so the provider does not retry-storm us.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Result is the ingress verdict for one raw event
type Result struct {
	Verdict string
	Reason  string
	Event   *PaymentEvent
}

// PaymentEvent is a parsed, authenticated gateway event
type PaymentEvent struct {
	Type      string
	Reference string
	Amount    int64
	Raw       string
}

// RateLimiter admits or rejects one call for a source key
type RateLimiter interface {
	Allow(ctx context.Context, sourceIP string) (bool, error)
}

// EventLog persists raw events for forensic replay
type EventLog interface {
	RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error
}

type Ingress struct {
	secret    []byte
	allowlist map[string]struct{}
	limiter   RateLimiter
	events    EventLog
	logger    *zap.Logger
}

// NewIngress creates the webhook security pipeline. An empty allowlist
// disables the IP check (development setups sit behind tunnels with
// unstable provider IPs).
func NewIngress(secret string, allowedIPs []string, limiter RateLimiter, events EventLog) *Ingress {
	allowlist := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		allowlist[ip] = struct{}{}
	}
	return &Ingress{
		secret:    []byte(secret),
		allowlist: allowlist,
		limiter:   limiter,
		events:    events,
		logger:    util.GetLogger(),
	}
}

type rawEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// Ingest runs the security pipeline over one raw event: source IP, rate
// limit, signature, parse — each stage short-circuits. The raw body is
// persisted whatever the verdict.
func (i *Ingress) Ingest(ctx context.Context, rawBody []byte, signature, sourceIP string) Result {
	if len(i.allowlist) > 0 {
		if _, ok := i.allowlist[sourceIP]; !ok {
			return i.reject(ctx, rawBody, sourceIP, ReasonSourceIP)
		}
	}

	allowed, err := i.limiter.Allow(ctx, sourceIP)
	if err != nil {
		// Fail open: losing the limiter briefly beats dropping genuine
		// gateway callbacks; the signature check still gates entry.
		i.logger.Warn("Rate limiter unavailable, admitting event",
			zap.String("source_ip", sourceIP),
			zap.Error(err))
	} else if !allowed {
		return i.reject(ctx, rawBody, sourceIP, ReasonRateLimit)
	}

	if !i.validSignature(rawBody, signature) {
		return i.reject(ctx, rawBody, sourceIP, ReasonSignature)
	}

	var ev rawEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil || ev.Event == "" {
		return i.reject(ctx, rawBody, sourceIP, ReasonMalformed)
	}

	if ev.Event != EventChargeSuccess && ev.Event != EventChargeFailed {
		i.record(ctx, ev.Event, ev.Data.Reference, rawBody, sourceIP, models.VerdictIgnored)
		util.WebhookEventsTotal.WithLabelValues(models.VerdictIgnored).Inc()
		i.logger.Info("Ignoring unrecognized webhook event type",
			zap.String("event_type", ev.Event))
		return Result{Verdict: models.VerdictIgnored}
	}

	i.record(ctx, ev.Event, ev.Data.Reference, rawBody, sourceIP, models.VerdictAccepted)
	util.WebhookEventsTotal.WithLabelValues(models.VerdictAccepted).Inc()

	return Result{
		Verdict: models.VerdictAccepted,
		Event: &PaymentEvent{
			Type:      ev.Event,
			Reference: ev.Data.Reference,
			Amount:    ev.Data.Amount,
			Raw:       string(rawBody),
		},
	}
}

// validSignature checks the HMAC-SHA512 of the raw body in constant time
func (i *Ingress) validSignature(rawBody []byte, signature string) bool {
	if len(i.secret) == 0 || signature == "" {
		return false
	}

	mac := hmac.New(sha512.New, i.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func (i *Ingress) reject(ctx context.Context, rawBody []byte, sourceIP, reason string) Result {
	i.record(ctx, "", "", rawBody, sourceIP, models.VerdictRejected)
	util.WebhookEventsTotal.WithLabelValues(models.VerdictRejected).Inc()
	util.WebhookRejectedTotal.WithLabelValues(reason).Inc()
	util.Alert("Webhook rejected",
		zap.String("reason", reason),
		zap.String("source_ip", sourceIP))
	return Result{Verdict: models.VerdictRejected, Reason: reason}
}

func (i *Ingress) record(ctx context.Context, eventType, reference string, rawBody []byte, sourceIP, verdict string) {
	err := i.events.RecordWebhookEvent(ctx, &models.WebhookEvent{
		EventType: eventType,
		Reference: reference,
		Payload:   string(rawBody),
		SourceIP:  sourceIP,
		Verdict:   verdict,
	})
	if err != nil {
		i.logger.Error("Failed to persist webhook event", zap.Error(err))
	}
}
