package dispatch

import (
	"os"
	"syscall"
	"testing"
)

func TestWatchSignalsFirstCancelsSecondExits(t *testing.T) {
	signals := make(chan os.Signal, 3)
	signals <- syscall.SIGINT
	signals <- syscall.SIGTERM
	signals <- syscall.SIGTERM
	close(signals)

	cancelled := 0
	var codes []int
	WatchSignals(func() { cancelled++ }, signals, func(code int) { codes = append(codes, code) }, nil)

	if cancelled != 1 {
		t.Fatalf("cancel called %d times, want 1", cancelled)
	}
	if len(codes) != 1 || codes[0] != 1 {
		t.Fatalf("exit codes = %v, want [1]", codes)
	}
}

func TestWatchSignalsSingleSignal(t *testing.T) {
	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM
	close(signals)

	cancelled := false
	exited := false
	WatchSignals(func() { cancelled = true }, signals, func(int) { exited = true }, nil)

	if !cancelled || exited {
		t.Fatalf("cancelled=%v exited=%v", cancelled, exited)
	}
}
