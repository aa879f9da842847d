package billing

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Helpers for reading loosely-typed processor objects. Every accessor
// tolerates absent keys and wrong types by reporting "not present".

func objectField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// idField reads a reference that is either an id string or an expanded
// object carrying an "id".
func idField(m map[string]any, key string) string {
	if s := stringField(m, key); s != "" {
		return s
	}
	return stringField(objectField(m, key), "id")
}

func boolField(m map[string]any, key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	b, ok := m[key].(bool)
	return b, ok
}

func numberField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	var f float64
	switch v := m[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func intField(m map[string]any, key string) (int64, bool) {
	f, ok := numberField(m, key)
	if !ok || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// unixField reads a unix-seconds timestamp. Zero, negative and non-numeric
// values are treated as absent.
func unixField(m map[string]any, key string) (time.Time, bool) {
	f, ok := numberField(m, key)
	if !ok || f <= 0 || f > float64(math.MaxInt32)*4 {
		return time.Time{}, false
	}
	return time.Unix(int64(f), 0).UTC(), true
}

// firstListItem returns list.data[0] for Stripe list objects.
func firstListItem(m map[string]any, key string) map[string]any {
	list := objectField(m, key)
	if list == nil {
		return nil
	}
	data, _ := list["data"].([]any)
	if len(data) == 0 {
		return nil
	}
	item, _ := data[0].(map[string]any)
	return item
}

// customerEmail digs the payer email out of the places the processor puts it.
func customerEmail(m map[string]any) string {
	if e := stringField(objectField(m, "customer_details"), "email"); e != "" {
		return e
	}
	if e := stringField(m, "customer_email"); e != "" {
		return e
	}
	return stringField(objectField(m, "customer"), "email")
}
