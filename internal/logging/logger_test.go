package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coldbell/clearinghouse/internal/config"
)

func TestNewWritesJSONToRotatingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "watcher", "watcher.log")
	logger, closeLogger, err := New("watcher", config.LogConfig{
		Level:    "debug",
		Format:   "json",
		Output:   "file",
		FilePath: logPath,
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Debug("account push decoded", "label", "state")
	if err := closeLogger(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	body, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{`"service":"watcher"`, `"label":"state"`, `"msg":"account push decoded"`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("log output %q missing %s", body, want)
		}
	}
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	if _, _, err := New("watcher", config.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, _, err := New("watcher", config.LogConfig{Format: "xml"}); err == nil {
		t.Fatalf("expected invalid format error")
	}
	if _, _, err := New("watcher", config.LogConfig{Output: "syslog"}); err == nil {
		t.Fatalf("expected invalid output error")
	}
}
