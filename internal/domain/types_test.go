package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStageJSON(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StageBase, "1"},
		{StageUptrend, "2"},
		{StageTop, "3"},
		{StageDowntrend, "4"},
		{StageUnknown, "null"},
		{Stage(9), "null"},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.stage)
		if err != nil {
			t.Fatalf("Marshal(%d): %v", tt.stage, err)
		}
		if string(b) != tt.want {
			t.Errorf("Marshal(%d) = %s, want %s", tt.stage, b, tt.want)
		}
	}

	var s Stage
	if err := json.Unmarshal([]byte("7"), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s != StageUnknown {
		t.Errorf("stage 7 decoded to %d, want unknown", s)
	}
}

func TestWeeklyRecordWireKeys(t *testing.T) {
	rec := WeeklyRecord{
		WeekEndDate: MustDate("2024-01-05"),
		Close:       Float(10.5),
		Volume:      Int(1200),
		Stage:       StageUptrend,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"week_end_date", "open", "high", "low", "close", "ma30", "rs", "volume", "stage"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, b)
		}
	}
	if m["open"] != nil || m["ma30"] != nil {
		t.Errorf("absent fields should encode as null: %s", b)
	}
	if m["week_end_date"] != "2024-01-05" {
		t.Errorf("week_end_date = %v", m["week_end_date"])
	}

	var back WeeklyRecord
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal record: %v", err)
	}
	if back.Open != nil || back.Close == nil || *back.Close != 10.5 || back.Stage != StageUptrend {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestDateScan(t *testing.T) {
	var d Date
	if err := d.Scan("2024-03-08T00:00:00Z"); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if d.String() != "2024-03-08" {
		t.Errorf("Scan string = %s", d)
	}
	if err := d.Scan(time.Date(2024, 3, 9, 15, 4, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Scan time: %v", err)
	}
	if d.String() != "2024-03-09" {
		t.Errorf("Scan time = %s", d)
	}
	if err := d.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
	v, _ := Date{}.Value()
	if v != nil {
		t.Errorf("zero Date Value = %v, want nil", v)
	}
}

func TestParseSignalType(t *testing.T) {
	if st, ok := ParseSignalType("BUY"); !ok || st != SignalBuy {
		t.Errorf("ParseSignalType(BUY) = %q, %v", st, ok)
	}
	if _, ok := ParseSignalType("HOLD"); ok {
		t.Error("HOLD should not parse")
	}
}
