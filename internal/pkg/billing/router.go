package billing

import (
	"context"

	"github.com/stripe/stripe-go/v82"
)

// Flow identifies the downstream handling an event type maps to.
type Flow string

const (
	FlowCheckoutCompleted   Flow = "checkout_completed"
	FlowSubscriptionUpsert  Flow = "subscription_upsert"
	FlowSubscriptionDeleted Flow = "subscription_deleted"
	FlowInvoicePaid         Flow = "invoice_paid"
	FlowInvoiceFailed       Flow = "invoice_failed"
)

// Handler processes one verified event of a registered type.
type Handler func(ctx context.Context, ev *Event) (Outcome, error)

type route struct {
	flow    Flow
	handler Handler
}

// Router dispatches events by declared type. Types without a registration
// are acknowledged without any handler running.
type Router struct {
	routes map[stripe.EventType]route
}

func NewRouter() *Router {
	return &Router{routes: make(map[stripe.EventType]route)}
}

// Register binds one or more event types to a flow handler. A later
// registration for the same type replaces the earlier one.
func (r *Router) Register(flow Flow, h Handler, types ...stripe.EventType) {
	for _, t := range types {
		r.routes[t] = route{flow: flow, handler: h}
	}
}

// Handles reports whether a handler is registered for the event type.
func (r *Router) Handles(t stripe.EventType) bool {
	_, ok := r.routes[t]
	return ok
}

func (r *Router) Route(ctx context.Context, ev *Event) (Outcome, error) {
	rt, ok := r.routes[ev.Type]
	if !ok {
		return Outcome{Action: ActionIgnored, Reason: "unhandled event type"}, nil
	}
	out, err := rt.handler(ctx, ev)
	out.Flow = rt.flow
	return out, err
}
