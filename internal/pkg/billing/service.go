package billing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/memberhub/internal/pkg/logger"
	"github.com/ManuelReschke/memberhub/internal/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	// DefaultEventTimeout bounds a single processing run.
	DefaultEventTimeout = 10 * time.Second

	archiveTimeout = 30 * time.Second
	tracerName     = "github.com/ManuelReschke/memberhub/internal/pkg/billing"
)

// Result is everything the caller needs to answer one delivery.
type Result struct {
	RunID   string
	EventID string
	Type    string
	Class   Class
	Outcome Outcome
	Err     error
}

func (r Result) StatusCode() int {
	return r.Class.StatusCode()
}

// Engine turns a signed processor delivery into at most one account write
// and a response class. Runs share no mutable state.
type Engine struct {
	auth     Authenticator
	router   *Router
	ledger   EventLedger
	archiver Archiver
	log      logger.Logger
	tracer   trace.Tracer
	timeout  time.Duration
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithLedger(l EventLedger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.ledger = l
		}
	}
}

func WithArchiver(a Archiver) EngineOption {
	return func(e *Engine) { e.archiver = a }
}

func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(auth Authenticator, router *Router, opts ...EngineOption) *Engine {
	e := &Engine{
		auth:    auth,
		router:  router,
		ledger:  NopLedger{},
		log:     logger.NewNop(),
		tracer:  otel.Tracer(tracerName),
		timeout: DefaultEventTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EngineConfig carries the settings NewEngineFromDB needs.
type EngineConfig struct {
	Scheme        string
	Secret        string
	Tolerance     time.Duration
	UnknownStatus Status
	Timeout       time.Duration
	DedupWindow   time.Duration
}

// NewEngineFromDB wires the default collaborators around a GORM handle.
func NewEngineFromDB(db *gorm.DB, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	auth, err := NewAuthenticator(cfg.Scheme, cfg.Secret, cfg.Tolerance)
	if err != nil {
		return nil, err
	}
	repo := NewRepository(db)
	router := NewRouter()
	NewHandlers(NewResolver(repo), NewExtractor(cfg.UnknownStatus, nil), NewWriter(repo, nil)).Register(router)

	base := []EngineOption{WithTimeout(cfg.Timeout), WithLedger(NewDBLedger(repo, cfg.DedupWindow))}
	return NewEngine(auth, router, append(base, opts...)...), nil
}

// Process authenticates, routes and classifies one delivery.
func (e *Engine) Process(ctx context.Context, payload []byte, signatureHeader string) Result {
	start := e.now()
	res := Result{RunID: uuid.NewString()}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "billing.process_event")
	defer span.End()

	ev, err := e.auth.Authenticate(payload, signatureHeader)
	if err != nil {
		res.Err = err
		res.Class = Classify(Outcome{}, err)
		reason := "malformed"
		if IsAuthError(err) {
			reason = "signature"
		}
		metrics.WebhookRejections.WithLabelValues(reason).Inc()
		span.SetStatus(codes.Error, reason)
		e.log.WithError(err).Warn("billing webhook rejected", map[string]interface{}{
			"run_id": res.RunID,
			"reason": reason,
			"class":  string(res.Class),
		})
		return res
	}

	res.EventID = ev.ID
	res.Type = string(ev.Type)
	span.SetAttributes(
		attribute.String("billing.event_id", ev.ID),
		attribute.String("billing.event_type", res.Type),
	)

	if e.archiver != nil {
		go e.archive(ev)
	}

	out, err := e.dispatch(ctx, ev)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	res.Outcome = out
	res.Err = err
	res.Class = Classify(out, err)
	span.SetAttributes(
		attribute.String("billing.class", string(res.Class)),
		attribute.String("billing.action", string(out.Action)),
	)

	e.record(ctx, ev, res)
	e.observe(res, e.now().Sub(start))
	if res.Class != ClassAck {
		span.SetStatus(codes.Error, string(res.Class))
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, ev *Event) (Outcome, error) {
	entry, err := e.ledger.Seen(ctx, ev.ID)
	if err != nil {
		// The timestamp guard still protects the account.
		e.log.WithError(err).Warn("billing ledger lookup failed", map[string]interface{}{
			"event_id": ev.ID,
		})
	} else if entry.Seen {
		return Outcome{Action: ActionDuplicate, Reason: "already processed"}, nil
	}
	return e.router.Route(ctx, ev)
}

func (e *Engine) record(ctx context.Context, ev *Event, res Result) {
	var err error
	switch {
	case res.Class == ClassAck && res.Outcome.Action != ActionDuplicate:
		err = e.ledger.MarkSeen(ctx, ev, e.now())
	case res.Class != ClassAck:
		if fr, ok := e.ledger.(failureRecorder); ok {
			// The run context may already be done.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			err = fr.MarkFailed(rctx, ev, res.Err)
			cancel()
		}
	}
	if err != nil {
		e.log.WithError(err).Warn("billing ledger write failed", map[string]interface{}{
			"event_id": ev.ID,
		})
	}
}

func (e *Engine) observe(res Result, took time.Duration) {
	metrics.WebhookEvents.WithLabelValues(res.Type, string(res.Class), string(res.Outcome.Action)).Inc()
	metrics.WebhookDuration.WithLabelValues(res.Type).Observe(took.Seconds())

	fields := map[string]interface{}{
		"run_id":      res.RunID,
		"event_id":    res.EventID,
		"type":        res.Type,
		"flow":        string(res.Outcome.Flow),
		"customer":    MaskID(res.Outcome.CustomerID),
		"account":     maskAccount(res.Outcome.AccountID),
		"action":      string(res.Outcome.Action),
		"class":       string(res.Class),
		"duration_ms": took.Milliseconds(),
	}
	if res.Outcome.Reason != "" {
		fields["reason"] = res.Outcome.Reason
	}

	switch res.Class {
	case ClassAck:
		e.log.Info("billing webhook processed", fields)
	case ClassRejected:
		e.log.WithError(res.Err).Warn("billing webhook rejected", fields)
	default:
		e.log.WithError(res.Err).Error("billing webhook failed", fields)
	}
}

func (e *Engine) archive(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := e.archiver.Archive(ctx, ev); err != nil {
		e.log.WithError(err).Warn("billing payload archive failed", map[string]interface{}{
			"event_id": ev.ID,
		})
	}
}

// MaskID hides all but the last four characters of an identifier, keeping
// a processor prefix such as "cus_".
func MaskID(id string) string {
	if id == "" {
		return ""
	}
	prefix, rest := "", id
	if i := strings.IndexByte(id, '_'); i >= 0 && i < len(id)-1 {
		prefix, rest = id[:i+1], id[i+1:]
	}
	if len(rest) <= 4 {
		return prefix + strings.Repeat("*", len(rest))
	}
	return prefix + "****" + rest[len(rest)-4:]
}

func maskAccount(id uint) string {
	if id == 0 {
		return ""
	}
	return MaskID(strconv.FormatUint(uint64(id), 10))
}
