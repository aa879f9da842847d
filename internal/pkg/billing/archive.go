package billing

import (
	"context"
	"time"
)

// ObjectStore is the subset of an object storage client the archive needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	ObjectKey(name string, at time.Time) string
}

// Archiver keeps a copy of verified payloads for later inspection.
type Archiver interface {
	Archive(ctx context.Context, ev *Event) error
}

// PayloadArchiver writes each verified payload as <event id>.json, keyed by
// the event's declared creation date.
type PayloadArchiver struct {
	store ObjectStore
}

func NewPayloadArchiver(store ObjectStore) *PayloadArchiver {
	return &PayloadArchiver{store: store}
}

func (a *PayloadArchiver) Archive(ctx context.Context, ev *Event) error {
	key := a.store.ObjectKey(ev.ID+".json", ev.Created)
	return a.store.PutObject(ctx, key, ev.Payload, "application/json")
}
