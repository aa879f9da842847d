package billing

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/memberhub/app/models"
	"github.com/ManuelReschke/memberhub/internal/pkg/logger"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

const testSecret = "whsec_test_secret"

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

// fakeRepo is an in-memory Repository with the same uniqueness and
// not-found behaviour as the GORM one.
type fakeRepo struct {
	mu          sync.Mutex
	accounts    map[uint]*models.Account
	nextID      uint
	events      map[string]*models.BillingWebhookEvent
	nextEventID uint

	creates int
	updates int

	findErr   error
	updateErr error
	// beforeUpdate runs inside UpdateAccountIfVersion before the version check.
	beforeUpdate func(r *fakeRepo, id uint)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts: make(map[uint]*models.Account),
		events:   make(map[string]*models.BillingWebhookEvent),
	}
}

func strPtr(s string) *string { return &s }

// seed stores an account as-is and returns its id.
func (r *fakeRepo) seed(a models.Account) uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	a.ID = r.nextID
	if a.Version == 0 {
		a.Version = 1
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = testNow.Add(time.Duration(a.ID) * time.Minute)
	}
	if a.SubscriptionStatus == "" {
		a.SubscriptionStatus = models.SubscriptionStatusFree
	}
	stored := a
	r.accounts[a.ID] = &stored
	return a.ID
}

func (r *fakeRepo) get(id uint) models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.accounts[id]
}

func (r *fakeRepo) all() []models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRepo) FindAccountByCustomerID(_ context.Context, customerID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, a := range r.accounts {
		if a.CustomerID() == customerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindAccountByID(_ context.Context, id uint) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListAccountsByEmail(_ context.Context, email string) ([]models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []models.Account
	for _, a := range r.accounts {
		if a.Email == normalizeEmail(email) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *fakeRepo) CreateAccount(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := account.CustomerID(); id != "" {
		for _, a := range r.accounts {
			if a.CustomerID() == id {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	r.nextID++
	r.creates++
	account.ID = r.nextID
	account.Email = normalizeEmail(account.Email)
	account.CreatedAt = testNow
	stored := *account
	r.accounts[account.ID] = &stored
	return nil
}

func (r *fakeRepo) UpdateAccountIfVersion(_ context.Context, id, version uint, updates map[string]interface{}) error {
	if r.beforeUpdate != nil {
		r.beforeUpdate(r, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	a, ok := r.accounts[id]
	if !ok || a.Version != version {
		return ErrStaleWrite
	}
	cp := *a
	for k, v := range updates {
		applyColumn(&cp, k, v)
	}
	if cust := cp.CustomerID(); cust != "" && cust != a.CustomerID() {
		for _, other := range r.accounts {
			if other.ID != id && other.CustomerID() == cust {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	r.accounts[id] = &cp
	r.updates++
	return nil
}

func applyColumn(a *models.Account, column string, v interface{}) {
	timePtr := func() *time.Time { t := v.(time.Time); return &t }
	switch column {
	case "version":
		a.Version = v.(uint)
	case "updated_at":
		a.UpdatedAt = v.(time.Time)
	case "subscription_status":
		a.SubscriptionStatus = v.(string)
	case "subscription_start":
		a.SubscriptionStart = timePtr()
	case "subscription_end":
		a.SubscriptionEnd = timePtr()
	case "stripe_subscription_id":
		a.StripeSubscriptionID = strPtr(v.(string))
	case "stripe_customer_id":
		a.StripeCustomerID = strPtr(v.(string))
	case "price_id":
		a.PriceID = v.(string)
	case "product_id":
		a.ProductID = v.(string)
	case "price_amount":
		a.PriceAmount = v.(int64)
	case "actual_amount":
		a.ActualAmount = v.(int64)
	case "currency":
		a.Currency = v.(string)
	case "billing_interval":
		a.BillingInterval = v.(string)
	case "discount_percent":
		a.DiscountPercent = v.(float64)
	case "discount_name":
		a.DiscountName = v.(string)
	case "auto_renew":
		a.AutoRenew = v.(bool)
	case "cancelled_at":
		a.CancelledAt = timePtr()
	case "last_event_applied_at":
		a.LastEventAppliedAt = timePtr()
	default:
		panic("fakeRepo: unknown column " + column)
	}
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	stored := *event
	r.events[key] = &stored
	cp := stored
	return true, &cp, nil
}

func (r *fakeRepo) FindWebhookEvent(_ context.Context, provider, providerEventID string) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.events[provider+":"+providerEventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *fakeRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := testNow
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// eventPayload renders a processor event envelope.
func eventPayload(t testing.TB, id string, typ stripe.EventType, created time.Time, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        string(typ),
		"created":     created.Unix(),
		"livemode":    false,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func signPayload(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func subscriptionObject(customerID string, start, end time.Time, amount int64) map[string]any {
	return map[string]any{
		"id":                   "sub_" + customerID,
		"object":               "subscription",
		"customer":             customerID,
		"status":               "active",
		"cancel_at_period_end": false,
		"created":              start.Unix(),
		"current_period_start": start.Unix(),
		"current_period_end":   end.Unix(),
		"items": map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{
					"quantity": 1,
					"price": map[string]any{
						"id":          "price_basic",
						"product":     "prod_basic",
						"unit_amount": amount,
						"currency":    "eur",
						"recurring":   map[string]any{"interval": "month"},
					},
				},
			},
		},
	}
}

func checkoutObject(customerID, email string) map[string]any {
	return map[string]any{
		"id":               "cs_" + customerID,
		"object":           "checkout.session",
		"customer":         customerID,
		"customer_details": map[string]any{"email": email},
		"payment_status":   "paid",
		"mode":             "subscription",
	}
}

// decoded round-trips an object through ParseEvent's decoder so tests see
// json.Number values exactly as handlers do.
func decoded(t testing.TB, object map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	obj, err := decodeObject(raw)
	require.NoError(t, err)
	return obj
}

type harness struct {
	repo   *fakeRepo
	engine *Engine
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	repo := newFakeRepo()
	router := NewRouter()
	NewHandlers(
		NewResolver(repo),
		NewExtractor(StatusExpired, testClock),
		NewWriter(repo, testClock),
	).Register(router)

	base := []EngineOption{WithLogger(logger.NewTest(t)), WithClock(testClock)}
	engine := NewEngine(NewStripeAuthenticator(testSecret, 0), router, append(base, opts...)...)
	return &harness{repo: repo, engine: engine}
}

func (h *harness) deliver(payload []byte) Result {
	return h.engine.Process(context.Background(), payload, signPayload(payload, testSecret))
}
