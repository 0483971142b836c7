package utils

import (
	"os"
	"strings"
	"testing"
)

func TestTokenCounter_Count(t *testing.T) {
	tc := NewTokenCounter("gpt-3.5-turbo")
	if tc.Model() != "gpt-3.5-turbo" {
		t.Errorf("Model() = %q", tc.Model())
	}
	if got := tc.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d", got)
	}

	short := tc.Count("Hello, world!")
	long := tc.Count(strings.Repeat("Hello, world! ", 50))
	if short <= 0 || long <= short {
		t.Errorf("Count short=%d long=%d", short, long)
	}
}

func TestTokenCounter_UnknownModelStillCounts(t *testing.T) {
	tc := NewTokenCounter("phi3:mini")
	if tc.Count("some words to count") <= 0 {
		t.Error("expected a positive count")
	}
}

func TestTokenCounter_FitWithinLimit(t *testing.T) {
	tc := &TokenCounter{model: "estimate"}
	msgs := []Message{
		{Role: "user", Content: strings.Repeat("a", 400)},
		{Role: "assistant", Content: strings.Repeat("b", 40)},
		{Role: "user", Content: strings.Repeat("c", 40)},
	}

	got := tc.FitWithinLimit(msgs, 40)
	if len(got) != 2 || got[0].Content[0] != 'b' || got[1].Content[0] != 'c' {
		t.Fatalf("FitWithinLimit() kept %d messages: %+v", len(got), got)
	}

	if got := tc.FitWithinLimit(msgs, 0); len(got) != 3 {
		t.Errorf("unlimited budget kept %d", len(got))
	}
	if got := tc.FitWithinLimit(msgs, 1); len(got) != 0 {
		t.Errorf("tiny budget kept %d", len(got))
	}
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	if err := EnsureParentDir("file:" + dir + "/a/b/agent.db?_busy_timeout=5000"); err != nil {
		t.Fatalf("EnsureParentDir() error = %v", err)
	}
	if _, err := os.Stat(dir + "/a/b"); err != nil {
		t.Errorf("directory not created: %v", err)
	}
	if err := EnsureParentDir(":memory:"); err != nil {
		t.Errorf("memory DSN: %v", err)
	}
}
