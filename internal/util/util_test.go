package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	cases := []struct {
		name      string
		failUntil int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{"succeeds after transient failures", 3, false, 3, false},
		{"gives up after all attempts", 99, false, 4, true},
		{"stops on permanent error", 99, true, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			boom := errors.New("upstream")
			calls := 0
			err := Retry(context.Background(), Backoff{Attempts: 4}, func(attempt int) error {
				calls++
				if attempt != calls {
					t.Errorf("attempt = %d on call %d", attempt, calls)
				}
				if calls >= tc.failUntil {
					return nil
				}
				if tc.permanent {
					return Permanent(boom)
				}
				return boom
			})
			if calls != tc.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr && err != boom {
				t.Errorf("err = %v, want the unwrapped upstream error", err)
			}
		})
	}
}

func TestRetryLogsAttempts(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "debug", "text")
	_ = Retry(context.Background(), Backoff{Attempts: 3, Log: log}, func(int) error {
		return errors.New("flaky")
	})
	if got := strings.Count(buf.String(), "retrying"); got != 2 {
		t.Errorf("logged %d retries, want 2:\n%s", got, buf.String())
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, Backoff{Attempts: 3, Delay: time.Hour}, func(int) error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60)
	if !rl.Allow() {
		t.Fatal("first call should be allowed")
	}
	if rl.Allow() {
		t.Error("second immediate call should be throttled at burst 1")
	}

	unlimited := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if err := unlimited.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "warn", "text").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
	NewLoggerTo(&buf, "debug", "json").Debug("shown", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("json output = %q", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should be info")
	}
}

func TestWeekEnd(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2024-01-08", "2024-01-12"}, // Monday
		{"2024-01-12", "2024-01-12"}, // Friday
		{"2024-01-13", "2024-01-12"}, // Saturday
		{"2024-01-14", "2024-01-12"}, // Sunday
	}
	for _, tt := range tests {
		in, _ := time.Parse("2006-01-02", tt.in)
		if got := WeekEnd(in).Format("2006-01-02"); got != tt.want {
			t.Errorf("WeekEnd(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLastCompletedWeek(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2024-01-10", "2024-01-05"}, // Wednesday
		{"2024-01-12", "2024-01-12"}, // Friday
		{"2024-01-14", "2024-01-12"}, // Sunday
	}
	for _, tt := range tests {
		in, _ := time.Parse("2006-01-02", tt.in)
		if got := LastCompletedWeek(in).Format("2006-01-02"); got != tt.want {
			t.Errorf("LastCompletedWeek(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if !IsWeekend(time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)) {
		t.Error("Saturday not a weekend")
	}
}
