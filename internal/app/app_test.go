package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"weinstein/internal/cache"
	"weinstein/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.SQLitePath = filepath.Join(dir, "weinstein.db")
	return cfg
}

func TestOpen(t *testing.T) {
	a, err := Open(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if _, ok := a.Cache.(*cache.Memory); !ok {
		t.Errorf("cache = %T, want memory", a.Cache)
	}
	if got := a.Classifiers.List(); len(got) != 2 {
		t.Errorf("classifiers = %v", got)
	}
	if a.Processor == nil || a.Dashboard == nil || a.Portfolio == nil || a.Archive == nil {
		t.Error("component not wired")
	}
	if a.Backtester() == nil {
		t.Error("Backtester returned nil")
	}
	if _, err := a.Gatherer(nil); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Gatherer err = %v", err)
	}

	a.Config.Alpaca.APIKey, a.Config.Alpaca.APISecret = "k", "s"
	if g, err := a.Gatherer(nil); err != nil || g.Name() != "us-daily" {
		t.Errorf("Gatherer = %v, %v", g, err)
	}
}

func TestOpenUnknownClassifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Classifier = "astrology"
	if _, err := Open(context.Background(), cfg, nil); err == nil || !strings.Contains(err.Error(), "astrology") {
		t.Errorf("err = %v", err)
	}
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "weinstein.log")
	log, closer, err := NewLogger(config.Logging{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("hello", "k", "v")
	log.Debug("hidden")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"msg":"hello"`) || strings.Contains(string(b), "hidden") {
		t.Errorf("log file = %s", b)
	}
}
