package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v82"
)

// Event is a verified, parsed payment processor notification.
type Event struct {
	ID      string
	Type    stripe.EventType
	Created time.Time
	// Object is data.object decoded with json.Number for numeric values.
	Object  map[string]any
	Payload []byte
}

type eventEnvelope struct {
	ID      string `validate:"required"`
	Type    string `validate:"required"`
	Created int64  `validate:"gt=0"`
}

var envelopeValidator = validator.New()

// ParseEvent decodes a verified payload into an Event. It must only be
// called after the signature has been checked.
func ParseEvent(payload []byte) (*Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	env := eventEnvelope{ID: se.ID, Type: string(se.Type), Created: se.Created}
	if err := envelopeValidator.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: data.object missing", ErrMalformedPayload)
	}

	obj, err := decodeObject(se.Data.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: data.object is null", ErrMalformedPayload)
	}

	return &Event{
		ID:      se.ID,
		Type:    se.Type,
		Created: time.Unix(se.Created, 0).UTC(),
		Object:  obj,
		Payload: payload,
	}, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
