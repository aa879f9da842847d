package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/memberhub/app/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DefaultDedupWindow is how long processed event ids are remembered.
const DefaultDedupWindow = 72 * time.Hour

// LedgerEntry is the stored state for one event id.
type LedgerEntry struct {
	Seen bool
	At   time.Time
}

// EventLedger remembers recently processed event ids so exact redeliveries
// can be acknowledged without running any handler.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (LedgerEntry, error)
	MarkSeen(ctx context.Context, ev *Event, at time.Time) error
}

// failureRecorder is implemented by ledgers that also keep failed deliveries.
type failureRecorder interface {
	MarkFailed(ctx context.Context, ev *Event, processingErr error) error
}

// NopLedger never reports a duplicate.
type NopLedger struct{}

func (NopLedger) Seen(context.Context, string) (LedgerEntry, error)   { return LedgerEntry{}, nil }
func (NopLedger) MarkSeen(context.Context, *Event, time.Time) error { return nil }

// RedisLedger stores one expiring key per processed event id.
type RedisLedger struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

func NewRedisLedger(client redis.Cmdable, window time.Duration) *RedisLedger {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &RedisLedger{client: client, prefix: "billing:webhook:seen:", window: window}
}

func (l *RedisLedger) key(eventID string) string {
	return l.prefix + eventID
}

func (l *RedisLedger) Seen(ctx context.Context, eventID string) (LedgerEntry, error) {
	val, err := l.client.Get(ctx, l.key(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return LedgerEntry{}, nil
	}
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("ledger get: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		// Still a duplicate, the timestamp is informational.
		return LedgerEntry{Seen: true}, nil
	}
	return LedgerEntry{Seen: true, At: at}, nil
}

func (l *RedisLedger) MarkSeen(ctx context.Context, ev *Event, at time.Time) error {
	err := l.client.Set(ctx, l.key(ev.ID), at.UTC().Format(time.RFC3339Nano), l.window).Err()
	if err != nil {
		return fmt.Errorf("ledger set: %w", err)
	}
	return nil
}

// DBLedger keeps processed events in billing_webhook_events, which doubles
// as the audit record of every verified delivery.
type DBLedger struct {
	repo   Repository
	window time.Duration
	now    func() time.Time
}

func NewDBLedger(repo Repository, window time.Duration) *DBLedger {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DBLedger{repo: repo, window: window, now: time.Now}
}

func (l *DBLedger) Seen(ctx context.Context, eventID string) (LedgerEntry, error) {
	stored, err := l.repo.FindWebhookEvent(ctx, models.BillingProviderStripe, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LedgerEntry{}, nil
	}
	if err != nil {
		return LedgerEntry{}, err
	}
	if stored.ProcessedAt == nil || stored.ProcessingError != "" {
		return LedgerEntry{}, nil
	}
	if l.now().Sub(*stored.ProcessedAt) > l.window {
		return LedgerEntry{}, nil
	}
	return LedgerEntry{Seen: true, At: *stored.ProcessedAt}, nil
}

func (l *DBLedger) MarkSeen(ctx context.Context, ev *Event, _ time.Time) error {
	return l.mark(ctx, ev, nil)
}

func (l *DBLedger) MarkFailed(ctx context.Context, ev *Event, processingErr error) error {
	return l.mark(ctx, ev, processingErr)
}

func (l *DBLedger) mark(ctx context.Context, ev *Event, processingErr error) error {
	_, stored, err := l.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       string(ev.Type),
		PayloadJSON:     string(ev.Payload),
		SignatureValid:  true,
	})
	if err != nil {
		return err
	}
	return l.MarkWebhookProcessed(ctx, stored.ID, processingErr)
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (l *DBLedger) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return l.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (l *DBLedger) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return l.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}
