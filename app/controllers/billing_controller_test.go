package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ManuelReschke/memberhub/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	res       billing.Result
	payload   []byte
	signature string
}

func (s *stubProcessor) Process(_ context.Context, payload []byte, signatureHeader string) billing.Result {
	s.payload = payload
	s.signature = signatureHeader
	return s.res
}

func postWebhook(t *testing.T, p WebhookProcessor, header, signature, body string) (int, map[string]any, string) {
	t.Helper()
	app := fiber.New()
	app.Post("/webhooks/stripe", NewBillingController(p, header).HandleStripeWebhook)

	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(DefaultSignatureHeader, signature)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out, resp.Header.Get("X-Webhook-Run-ID")
}

func TestHandleStripeWebhook_Ack(t *testing.T) {
	p := &stubProcessor{res: billing.Result{
		RunID:   "run-1",
		Class:   billing.ClassAck,
		Outcome: billing.Outcome{Action: billing.ActionApplied},
	}}

	status, body, runID := postWebhook(t, p, "", "t=1,v1=abc", `{"id":"evt_1"}`)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "applied", body["action"])
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, `{"id":"evt_1"}`, string(p.payload))
	assert.Equal(t, "t=1,v1=abc", p.signature)
}

func TestHandleStripeWebhook_Classes(t *testing.T) {
	tests := []struct {
		name       string
		res        billing.Result
		wantStatus int
		wantKey    string
		wantValue  any
	}{
		{
			name:       "duplicate",
			res:        billing.Result{Class: billing.ClassAck, Outcome: billing.Outcome{Action: billing.ActionDuplicate}},
			wantStatus: fiber.StatusOK,
			wantKey:    "duplicate",
			wantValue:  true,
		},
		{
			name:       "unresolved",
			res:        billing.Result{Class: billing.ClassAck, Outcome: billing.Outcome{Action: billing.ActionUnresolved}},
			wantStatus: fiber.StatusOK,
			wantKey:    "ignored",
			wantValue:  true,
		},
		{
			name:       "bad signature",
			res:        billing.Result{Class: billing.ClassRejected, Err: billing.ErrSignatureInvalid},
			wantStatus: fiber.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "invalid_signature",
		},
		{
			name:       "malformed",
			res:        billing.Result{Class: billing.ClassRejected, Err: billing.ErrMalformedPayload},
			wantStatus: fiber.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "invalid_payload",
		},
		{
			name:       "retryable",
			res:        billing.Result{Class: billing.ClassRetryable, Err: errors.New("db down")},
			wantStatus: fiber.StatusInternalServerError,
			wantKey:    "error",
			wantValue:  "webhook_processing_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, _ := postWebhook(t, &stubProcessor{res: tt.res}, "", "sig", `{}`)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantValue, body[tt.wantKey])
		})
	}
}

func TestHandleStripeWebhook_CustomHeader(t *testing.T) {
	p := &stubProcessor{res: billing.Result{Class: billing.ClassAck}}
	app := fiber.New()
	app.Post("/hook", NewBillingController(p, "X-Signature").HandleStripeWebhook)

	req := httptest.NewRequest(fiber.MethodPost, "/hook", strings.NewReader(`{}`))
	req.Header.Set("X-Signature", " deadbeef ")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "deadbeef", p.signature)
}
