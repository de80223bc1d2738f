package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnDeadline(t *testing.T) {
	f := NewFake(epoch)
	ch := f.After(1500 * time.Millisecond)

	f.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before its deadline")
	default:
	}
	if f.Timers() != 1 {
		t.Fatalf("pending timers = %d, want 1", f.Timers())
	}

	f.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(1500 * time.Millisecond)) {
			t.Fatalf("fired at %v", got)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if f.Timers() != 0 {
		t.Fatalf("pending timers = %d, want 0", f.Timers())
	}
}

func TestFakeAfterZeroFiresImmediately(t *testing.T) {
	f := NewFake(epoch)
	select {
	case <-f.After(0):
	default:
		t.Fatal("zero duration timer should be ready")
	}
}

func TestFakeTickerDropsUnreadTicks(t *testing.T) {
	f := NewFake(epoch)
	tk := f.NewTicker(3 * time.Second)

	f.Advance(10 * time.Second)
	select {
	case got := <-tk.C():
		if !got.Equal(epoch.Add(3 * time.Second)) {
			t.Fatalf("first tick at %v", got)
		}
	default:
		t.Fatal("expected a tick")
	}
	select {
	case <-tk.C():
		t.Fatal("unread ticks should have been dropped")
	default:
	}

	f.Advance(2 * time.Second)
	select {
	case got := <-tk.C():
		if !got.Equal(epoch.Add(12 * time.Second)) {
			t.Fatalf("next tick at %v", got)
		}
	default:
		t.Fatal("expected the 12s tick")
	}
}

func TestFakeTickerStopAndReset(t *testing.T) {
	f := NewFake(epoch)
	tk := f.NewTicker(time.Second)
	tk.Stop()
	if f.Tickers() != 0 {
		t.Fatalf("tickers = %d after Stop", f.Tickers())
	}
	f.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	tk.Reset(2 * time.Second)
	tk.Reset(2 * time.Second)
	if f.Tickers() != 1 {
		t.Fatalf("tickers = %d after Reset, want 1", f.Tickers())
	}
	f.Advance(2 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("reset ticker did not fire")
	}
}
