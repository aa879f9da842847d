package controllers

import (
	"context"
	"strings"

	"github.com/ManuelReschke/memberhub/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
)

const DefaultSignatureHeader = "Stripe-Signature"

// WebhookProcessor turns one signed delivery into a classified result.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signatureHeader string) billing.Result
}

type BillingController struct {
	processor       WebhookProcessor
	signatureHeader string
}

func NewBillingController(processor WebhookProcessor, signatureHeader string) *BillingController {
	if strings.TrimSpace(signatureHeader) == "" {
		signatureHeader = DefaultSignatureHeader
	}
	return &BillingController{processor: processor, signatureHeader: signatureHeader}
}

// HandleStripeWebhook answers a processor delivery. The status code is the
// only part the processor acts on; the body is for operators.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer after the handler returns.
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(bc.signatureHeader))

	res := bc.processor.Process(c.UserContext(), rawBody, signature)
	if res.RunID != "" {
		c.Set("X-Webhook-Run-ID", res.RunID)
	}

	switch res.Class {
	case billing.ClassAck:
		body := fiber.Map{"ok": true}
		if res.Outcome.Action != "" {
			body["action"] = string(res.Outcome.Action)
		}
		switch res.Outcome.Action {
		case billing.ActionDuplicate:
			body["duplicate"] = true
		case billing.ActionIgnored, billing.ActionUnresolved:
			body["ignored"] = true
		}
		return c.Status(res.StatusCode()).JSON(body)
	case billing.ClassRejected:
		code := "invalid_payload"
		if billing.IsAuthError(res.Err) {
			code = "invalid_signature"
		}
		return c.Status(res.StatusCode()).JSON(fiber.Map{"error": code})
	default:
		return c.Status(res.StatusCode()).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}
}
