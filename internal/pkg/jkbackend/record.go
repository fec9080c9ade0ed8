package jkbackend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Record is one provider object (user or transaction) as returned by the API.
// Numbers are kept as json.Number so large ids survive unchanged.
type Record map[string]interface{}

// String returns the first non-empty value among keys, rendered as a string.
func (r Record) String(keys ...string) string {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(t)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Decimal parses the first present value among keys as a decimal amount.
func (r Record) Decimal(keys ...string) (decimal.Decimal, bool) {
	raw := r.String(keys...)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ID returns the provider id of the record.
func (r Record) ID() string {
	return r.String("id")
}

// Map converts the record into a plain map for job payloads.
func (r Record) Map() map[string]interface{} {
	return map[string]interface{}(r)
}

// FlexInt decodes integers the provider sometimes sends as strings.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*f = FlexInt(n)
	return nil
}
