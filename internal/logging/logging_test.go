package logging

import "testing"

func TestNewAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "INFO", " warn ", "error"} {
		logger, err := New(level, "certd")
		if err != nil {
			t.Fatalf("level %q: unexpected error: %v", level, err)
		}
		_ = logger.Sync()
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("verbose", "certd"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
