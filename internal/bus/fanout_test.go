package bus

import (
	"context"
	"testing"
	"time"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/model"
)

func TestFanOut_BroadcastsToAllSubscribers(t *testing.T) {
	f := New(4)
	a := f.Subscribe()
	b := f.Subscribe()

	input := make(chan engine.Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, input)
		close(done)
	}()

	input <- engine.Update{Symbol: "AAPL", TF: model.TF1m, Kind: engine.UpdateKindBar}

	for name, ch := range map[string]<-chan engine.Update{"a": a, "b": b} {
		select {
		case u := <-ch:
			if u.Symbol != "AAPL" {
				t.Fatalf("subscriber %s got %+v", name, u)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the update", name)
		}
	}

	cancel()
	<-done
	// Run closes subscriber channels on exit.
	if _, open := <-a; open {
		t.Fatal("subscriber channel still open after Run returned")
	}
}

func TestFanOut_SlowSubscriberDropsNotBlocks(t *testing.T) {
	f := New(1)
	slow := f.Subscribe()

	var drops int
	f.OnDrop = func(idx int) { drops++ }

	input := make(chan engine.Update)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.Run(ctx, input)
		close(done)
	}()

	// Buffer size 1: the second and third sends overflow while nobody reads.
	for i := 0; i < 3; i++ {
		input <- engine.Update{Symbol: "SPY", Kind: engine.UpdateKindTick}
	}
	close(input)
	<-done

	if drops != 2 {
		t.Fatalf("drops = %d, want 2", drops)
	}
	if u := <-slow; u.Symbol != "SPY" {
		t.Fatalf("kept update = %+v", u)
	}
}
