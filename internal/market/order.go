// Package market standardizes the order payloads shared between ingestion, scoring, and reporting layers.
package market

import (
	"strings"
	"time"
)

// DateLayout is the feed's naive local timestamp format.
const DateLayout = "2006-01-02 15:04:05"

// Side is the order direction as published by the feed.
type Side string

const (
	// Buy is a bid for royalty units.
	Buy Side = "구매"
	// Sell is an ask for royalty units.
	Sell Side = "판매"
)

// String returns the English name of the side.
func (s Side) String() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	default:
		return string(s)
	}
}

// Status is the order lifecycle state as published by the feed.
type Status string

const (
	Waiting   Status = "대기"
	Completed Status = "완료"
	Cancelled Status = "취소"
	Matched   Status = "체결"
)

// String returns the English name of the status.
func (s Status) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Completed:
		return "Completed"
	case Cancelled:
		return "Cancelled"
	case Matched:
		return "Matched"
	default:
		return string(s)
	}
}

// Done reports whether the order left the book through execution.
func (s Status) Done() bool { return s == Completed || s == Matched }

// ParseSide accepts the feed value or the English name.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(Buy), "buy":
		return Buy, true
	case string(Sell), "sell":
		return Sell, true
	}
	return "", false
}

// ParseStatus accepts the feed value or the English name.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(Waiting), "waiting":
		return Waiting, true
	case string(Completed), "completed":
		return Completed, true
	case string(Cancelled), "cancelled", "canceled":
		return Cancelled, true
	case string(Matched), "matched":
		return Matched, true
	}
	return "", false
}

// Order models a single row of the marketplace order feed.
type Order struct {
	OrderNo      string   `json:"order_no"`
	SongName     string   `json:"song_name"`
	SongArtist   string   `json:"song_artist"`
	SongCategory string   `json:"song_category"`
	Type         Side     `json:"order_type"`
	Status       Status   `json:"order_status"`
	Price        float64  `json:"order_price"`
	Count        float64  `json:"order_count"`
	LeavesCount  *float64 `json:"leaves_count,omitempty"`
	RoyaltyRate  float64  `json:"order_royalty_rate"`
	RecentPrice  float64  `json:"recent_price"`
	Date         string   `json:"order_date"`
	URL          string   `json:"url_link,omitempty"`
}

// Time parses the order date in loc. A nil loc means time.Local.
func (o Order) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, strings.TrimSpace(o.Date), loc)
}

// Waiting reports whether the order is still resting on the book.
func (o Order) Waiting() bool { return o.Status == Waiting }
