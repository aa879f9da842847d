package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v82"
)

// Handlers holds the per-flow handlers and the collaborators they share.
type Handlers struct {
	resolver  *Resolver
	extractor *Extractor
	writer    *Writer
}

func NewHandlers(resolver *Resolver, extractor *Extractor, writer *Writer) *Handlers {
	return &Handlers{resolver: resolver, extractor: extractor, writer: writer}
}

// Register wires every supported event type into r.
func (h *Handlers) Register(r *Router) {
	r.Register(FlowCheckoutCompleted, h.CheckoutCompleted,
		stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
	)
	r.Register(FlowSubscriptionUpsert, h.SubscriptionUpsert,
		stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
	)
	r.Register(FlowSubscriptionDeleted, h.SubscriptionDeleted,
		stripe.EventTypeCustomerSubscriptionDeleted,
	)
	r.Register(FlowInvoicePaid, h.InvoicePaid,
		stripe.EventTypeInvoicePaid,
		stripe.EventTypeInvoicePaymentSucceeded,
	)
	r.Register(FlowInvoiceFailed, h.InvoiceFailed,
		stripe.EventTypeInvoicePaymentFailed,
	)
}

// CheckoutCompleted unlocks access for the paying customer. It is the only
// flow allowed to create an account.
func (h *Handlers) CheckoutCompleted(ctx context.Context, ev *Event) (Outcome, error) {
	session := ev.Object
	customerID := idField(session, "customer")
	email := customerEmail(session)

	if strings.EqualFold(stringField(session, "payment_status"), "unpaid") {
		return Outcome{Action: ActionIgnored, CustomerID: customerID, Reason: "payment pending"}, nil
	}

	var snap Snapshot
	if sub := objectField(session, "subscription"); stringField(sub, "status") != "" {
		snap = h.extractor.Extract(sub)
		if snap.CustomerID == "" {
			snap.CustomerID = customerID
		}
	} else {
		snap = h.extractor.ProvisionalCheckout(customerID)
	}

	res, err := h.resolver.Resolve(ctx, customerID, email)
	if errors.Is(err, ErrAccountNotFound) {
		if normalizeEmail(email) == "" {
			return Outcome{Action: ActionUnresolved, CustomerID: customerID, Reason: "no account and no email"}, nil
		}
		wr, err := h.writer.CreateFromCheckout(ctx, email, snap, ev.Created)
		return writeOutcome(wr, customerID), err
	}
	if err != nil {
		return Outcome{CustomerID: customerID}, err
	}

	wr, err := h.writer.Apply(ctx, res.Account, snap, ev.Created)
	return writeOutcome(wr, customerID), err
}

func (h *Handlers) SubscriptionUpsert(ctx context.Context, ev *Event) (Outcome, error) {
	snap := h.extractor.Extract(ev.Object)
	return h.applyResolved(ctx, ev, snap, customerEmail(ev.Object))
}

func (h *Handlers) SubscriptionDeleted(ctx context.Context, ev *Event) (Outcome, error) {
	snap := h.extractor.ExtractCancellation(ev.Object, ev.Created)
	return h.applyResolved(ctx, ev, snap, customerEmail(ev.Object))
}

func (h *Handlers) InvoicePaid(ctx context.Context, ev *Event) (Outcome, error) {
	snap := h.extractor.ExtractInvoice(ev.Object, true)
	return h.applyResolved(ctx, ev, snap, customerEmail(ev.Object))
}

func (h *Handlers) InvoiceFailed(ctx context.Context, ev *Event) (Outcome, error) {
	snap := h.extractor.ExtractInvoice(ev.Object, false)
	return h.applyResolved(ctx, ev, snap, customerEmail(ev.Object))
}

// applyResolved updates the one resolved account and never creates one.
func (h *Handlers) applyResolved(ctx context.Context, ev *Event, snap Snapshot, email string) (Outcome, error) {
	res, err := h.resolver.Resolve(ctx, snap.CustomerID, email)
	if errors.Is(err, ErrAccountNotFound) {
		return Outcome{Action: ActionUnresolved, CustomerID: snap.CustomerID, Reason: "no account for customer"}, nil
	}
	if err != nil {
		return Outcome{CustomerID: snap.CustomerID}, err
	}

	wr, err := h.writer.Apply(ctx, res.Account, snap, ev.Created)
	return writeOutcome(wr, snap.CustomerID), err
}

func writeOutcome(wr WriteResult, customerID string) Outcome {
	out := Outcome{AccountID: wr.AccountID, CustomerID: customerID}
	switch wr.Status {
	case WriteCreated:
		out.Action = ActionCreated
	case WriteSkippedStale:
		out.Action = ActionSkippedStale
		out.Reason = "older than last applied event"
	case WriteApplied:
		out.Action = ActionApplied
	}
	return out
}
