package market

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// RequiredFields lists the keys every feed row must carry with a non-null value.
var RequiredFields = []string{
	"order_no",
	"song_name",
	"song_artist",
	"song_category",
	"order_type",
	"order_price",
	"order_count",
	"order_status",
	"order_royalty_rate",
	"order_date",
	"recent_price",
}

type fieldKind int

const (
	stringField fieldKind = iota
	numberField
)

// typedFields lists every known key with its JSON type, in the order errors are reported.
var typedFields = []struct {
	name string
	kind fieldKind
}{
	{"order_no", stringField},
	{"song_name", stringField},
	{"song_artist", stringField},
	{"song_category", stringField},
	{"order_type", stringField},
	{"order_price", numberField},
	{"order_count", numberField},
	{"leaves_count", numberField},
	{"order_status", stringField},
	{"order_royalty_rate", numberField},
	{"order_date", stringField},
	{"recent_price", numberField},
	{"url_link", stringField},
}

// loggedRejects caps how many individual rejections are logged per batch.
const loggedRejects = 3

// ValidateFields checks a decoded feed row and returns every problem found.
func ValidateFields(row map[string]any) []error {
	var errs []error
	for _, field := range RequiredFields {
		if v, ok := row[field]; !ok || v == nil {
			errs = append(errs, fmt.Errorf("missing field %s", field))
		}
	}
	for _, f := range typedFields {
		v := row[f.name]
		if v == nil {
			continue
		}
		switch f.kind {
		case stringField:
			if _, ok := v.(string); !ok {
				errs = append(errs, fmt.Errorf("field %s: want string, got %T", f.name, v))
			}
		case numberField:
			if _, ok := v.(float64); !ok {
				errs = append(errs, fmt.Errorf("field %s: want number, got %T", f.name, v))
			}
		}
	}
	if price, ok := row["order_price"].(float64); ok && price <= 0 {
		errs = append(errs, fmt.Errorf("order_price must be positive: %v", price))
	}
	if rate, ok := row["order_royalty_rate"].(float64); ok && rate < 0 {
		errs = append(errs, fmt.Errorf("order_royalty_rate must not be negative: %v", rate))
	}
	if v, ok := row["order_type"]; ok && v != nil {
		if s, _ := v.(string); s != string(Buy) && s != string(Sell) {
			errs = append(errs, fmt.Errorf("invalid order_type %v", v))
		}
	}
	if v, ok := row["order_status"]; ok && v != nil {
		switch s, _ := v.(string); Status(s) {
		case Waiting, Completed, Cancelled, Matched:
		default:
			errs = append(errs, fmt.Errorf("invalid order_status %v", v))
		}
	}
	if s, ok := row["order_date"].(string); ok && s != "" {
		if _, err := time.Parse(DateLayout, s); err != nil {
			errs = append(errs, fmt.Errorf("invalid order_date %q", s))
		}
	}
	return errs
}

// ValidationReport summarises a validation pass.
type ValidationReport struct {
	Total    int
	Valid    int
	Rejected int
}

// Validator turns raw feed rows into typed orders, dropping rows that fail ValidateFields.
type Validator struct {
	log zerolog.Logger
}

// NewValidator constructs a Validator that logs the first few rejections of every batch.
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log}
}

// Validate decodes and checks each raw row, preserving the input order of the accepted ones.
func (v *Validator) Validate(rows []json.RawMessage) ([]Order, ValidationReport) {
	report := ValidationReport{Total: len(rows)}
	orders := make([]Order, 0, len(rows))
	for i, raw := range rows {
		order, err := decodeRow(raw)
		if err != nil {
			report.Rejected++
			if report.Rejected <= loggedRejects {
				v.log.Warn().Int("index", i).Err(err).Msg("invalid order")
			}
			continue
		}
		orders = append(orders, order)
	}
	report.Valid = len(orders)
	if report.Rejected > 0 {
		v.log.Warn().Int("rejected", report.Rejected).Msg("invalid orders excluded")
	}
	v.log.Info().Int("valid", report.Valid).Int("total", report.Total).Msg("validation complete")
	return orders, report
}

func decodeRow(raw json.RawMessage) (Order, error) {
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return Order{}, fmt.Errorf("decode row: %w", err)
	}
	if errs := ValidateFields(row); len(errs) > 0 {
		return Order{}, errors.Join(errs...)
	}
	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	return order, nil
}

// Dedupe keeps the last occurrence of every order_no, ordered by first appearance.
func Dedupe(orders []Order) []Order {
	index := make(map[string]int, len(orders))
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if i, ok := index[o.OrderNo]; ok {
			out[i] = o
			continue
		}
		index[o.OrderNo] = len(out)
		out = append(out, o)
	}
	return out
}
