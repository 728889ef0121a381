// Package domain defines the core types shared across the weinstein system:
// stocks, daily bars, weekly stage records, signals and portfolio positions.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar date format used on the wire and in storage.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Stage
// ---------------------------------------------------------------------------

// Stage is a market-phase classification. StageUnknown is a distinct marker
// and is never treated as one of the four valid stages.
type Stage int

const (
	StageUnknown   Stage = 0
	StageBase      Stage = 1
	StageUptrend   Stage = 2
	StageTop       Stage = 3
	StageDowntrend Stage = 4
)

// Valid reports whether s is one of Stage 1 to 4.
func (s Stage) Valid() bool {
	return s >= StageBase && s <= StageDowntrend
}

// String returns the short display name of the stage.
func (s Stage) String() string {
	switch s {
	case StageBase:
		return "Base/Consolidation"
	case StageUptrend:
		return "Uptrend"
	case StageTop:
		return "Top/Distribution"
	case StageDowntrend:
		return "Downtrend"
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes valid stages as integers and unknown as null.
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts an integer 1-4 or null. Any other value decodes to
// StageUnknown.
func (s *Stage) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = StageUnknown
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decoding stage: %w", err)
	}
	*s = StageFromInt(n)
	return nil
}

// Value stores unknown as NULL and valid stages as integers.
func (s Stage) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, nil
	}
	return int64(s), nil
}

// Scan reads a nullable integer stage column.
func (s *Stage) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = StageUnknown
	case int64:
		*s = StageFromInt(int(v))
	case int32:
		*s = StageFromInt(int(v))
	case float64:
		*s = StageFromInt(int(v))
	case []byte:
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return fmt.Errorf("scanning stage: %w", err)
		}
		*s = StageFromInt(n)
	default:
		return fmt.Errorf("cannot scan %T into Stage", src)
	}
	return nil
}

// StageFromInt maps an integer to a Stage, returning StageUnknown for values
// outside 1-4.
func StageFromInt(n int) Stage {
	st := Stage(n)
	if !st.Valid() {
		return StageUnknown
	}
	return st
}

// ---------------------------------------------------------------------------
// Date
// ---------------------------------------------------------------------------

// Date is a calendar day serialised as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to midnight UTC of its calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return Date{t}, nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	// Full timestamps are accepted; only the calendar day is kept.
	return d.scanString(s)
}

// Value stores the date as YYYY-MM-DD text.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan reads a date column stored as text or as a driver timestamp.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = NewDate(v)
		return nil
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

func (d *Date) scanString(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Stock is a tracked instrument.
type Stock struct {
	ID       int64  `json:"id" db:"id"`
	Ticker   string `json:"ticker" db:"ticker"`
	Name     string `json:"name" db:"name"`
	Exchange string `json:"exchange" db:"exchange"`
	Active   bool   `json:"active" db:"active"`
}

// DailyBar is one trading day of OHLCV data for a stock.
type DailyBar struct {
	StockID int64   `json:"stock_id" db:"stock_id"`
	Date    Date    `json:"date" db:"date"`
	Open    float64 `json:"open" db:"open"`
	High    float64 `json:"high" db:"high"`
	Low     float64 `json:"low" db:"low"`
	Close   float64 `json:"close" db:"close"`
	Volume  int64   `json:"volume" db:"volume"`
}

// WeeklyRecord is one calendar week of aggregated data and its stage. Every
// optional field is nil when unavailable (typically insufficient warm-up
// history), never zero-filled.
type WeeklyRecord struct {
	StockID     int64    `json:"-" db:"stock_id"`
	WeekEndDate Date     `json:"week_end_date" db:"week_end_date"`
	Open        *float64 `json:"open" db:"open"`
	High        *float64 `json:"high" db:"high"`
	Low         *float64 `json:"low" db:"low"`
	Close       *float64 `json:"close" db:"close"`
	MA30        *float64 `json:"ma30" db:"ma30"`
	MA30Slope   *float64 `json:"ma30_slope,omitempty" db:"ma30_slope"`
	RS          *float64 `json:"rs" db:"rs"`
	Volume      *int64   `json:"volume" db:"volume"`
	Stage       Stage    `json:"stage" db:"stage"`
}

// HasOHLC reports whether all four prices are present.
func (w WeeklyRecord) HasOHLC() bool {
	return w.Open != nil && w.High != nil && w.Low != nil && w.Close != nil
}

// Float returns a pointer to v. It is used to build optional fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalType identifies what a stage transition means for a trader.
type SignalType string

const (
	SignalBuy         SignalType = "BUY"
	SignalSell        SignalType = "SELL"
	SignalStageChange SignalType = "STAGE_CHANGE"
)

// ParseSignalType validates a signal type string.
func ParseSignalType(s string) (SignalType, bool) {
	switch SignalType(s) {
	case SignalBuy, SignalSell, SignalStageChange:
		return SignalType(s), true
	}
	return "", false
}

// Signal is a recorded stage transition for a stock.
type Signal struct {
	ID        int64      `json:"id"`
	StockID   int64      `json:"stock_id"`
	Ticker    string     `json:"ticker,omitempty"`
	Name      string     `json:"name,omitempty"`
	Date      Date       `json:"signal_date"`
	Type      SignalType `json:"signal_type"`
	FromStage Stage      `json:"stage_from"`
	ToStage   Stage      `json:"stage_to"`
	Price     float64    `json:"price"`
	MA30      *float64   `json:"ma30"`
	Notified  bool       `json:"notified"`
	CreatedAt time.Time  `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a manually tracked holding.
type Position struct {
	ID         string         `json:"id"`
	StockID    int64          `json:"stock_id"`
	Ticker     string         `json:"ticker"`
	Name       string         `json:"name"`
	EntryDate  Date           `json:"entry_date"`
	EntryPrice float64        `json:"entry_price"`
	Quantity   float64        `json:"quantity"`
	StopLoss   float64        `json:"stop_loss"`
	ExitDate   Date           `json:"exit_date"`
	ExitPrice  *float64       `json:"exit_price"`
	Status     PositionStatus `json:"status"`
	Notes      string         `json:"notes"`
	CreatedAt  time.Time      `json:"created_at"`
}
