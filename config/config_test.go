package config

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// captureFatal swaps logrus's exit func so Fatal paths can be observed.
func captureFatal(t *testing.T) *bool {
	t.Helper()
	fatal := false
	log.StandardLogger().ExitFunc = func(int) { fatal = true }
	t.Cleanup(func() { log.StandardLogger().ExitFunc = nil })
	return &fatal
}

func TestMinutes(t *testing.T) {
	t.Setenv("TEST_MINUTES", "")
	if got := Minutes("TEST_MINUTES", 3*time.Minute); got != 3*time.Minute {
		t.Errorf("default: got %v", got)
	}
	t.Setenv("TEST_MINUTES", "10")
	if got := Minutes("TEST_MINUTES", 3*time.Minute); got != 10*time.Minute {
		t.Errorf("parsed: got %v", got)
	}
}

func TestMinutesRefusesNonPositive(t *testing.T) {
	for _, v := range []string{"0", "-5", "ten"} {
		fatal := captureFatal(t)
		t.Setenv("TEST_MINUTES", v)
		Minutes("TEST_MINUTES", 3*time.Minute)
		if !*fatal {
			t.Errorf("value %q accepted, want a startup fatal", v)
		}
	}
}

func TestIntAndFloat(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := Int("TEST_INT", 5); got != 42 {
		t.Errorf("Int: got %d", got)
	}
	t.Setenv("TEST_FLOAT", "2.5")
	if got := Float("TEST_FLOAT", 1.0); got != 2.5 {
		t.Errorf("Float: got %v", got)
	}
	fatal := captureFatal(t)
	t.Setenv("TEST_INT", "many")
	Int("TEST_INT", 5)
	if !*fatal {
		t.Error("non-integer accepted, want a startup fatal")
	}
}
