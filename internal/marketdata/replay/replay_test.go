package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"signal-enginev1/internal/model"
	sqlitestore "signal-enginev1/internal/store/sqlite"
)

// seedDB writes interleaved 1m bars for two symbols and returns a reader.
func seedDB(t *testing.T) *sqlitestore.Reader {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bars.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("opening writer: %v", err)
	}

	ch := make(chan model.SymbolBar, 16)
	for i := int64(0); i < 3; i++ {
		for _, sym := range []string{"MSFT", "AAPL"} {
			ch <- model.SymbolBar{
				Symbol: sym,
				TF:     model.TF1m,
				Bar: model.Bar{
					StartMS: 60_000 + i*60_000,
					Open:    100, High: 101, Low: 99, Close: 100 + float64(i),
					Volume: 1000,
				},
			}
		}
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not drain")
	}
	w.Close()

	r, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		t.Fatalf("opening reader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReplay_OrderedAcrossSymbols(t *testing.T) {
	r := New(seedDB(t))

	var got []model.BarClose
	n, err := r.Run(context.Background(), nil, 0, 0, func(bc model.BarClose) {
		got = append(got, bc)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 6 || len(got) != 6 {
		t.Fatalf("emitted %d (collected %d), want 6", n, len(got))
	}

	// Timestamp-ordered, symbol tie-break alphabetical within each minute.
	for i := 1; i < len(got); i++ {
		if got[i].StartMS < got[i-1].StartMS {
			t.Errorf("out of order at %d: %d before %d", i, got[i-1].StartMS, got[i].StartMS)
		}
	}
	if got[0].Symbol != "AAPL" || got[1].Symbol != "MSFT" {
		t.Errorf("tie-break order: got %s, %s, want AAPL, MSFT", got[0].Symbol, got[1].Symbol)
	}
	if got[0].TF != model.TF1m || got[0].StartMS != 60_000 {
		t.Errorf("first event = %+v", got[0])
	}
}

func TestReplay_FromFiltersOldBars(t *testing.T) {
	r := New(seedDB(t))

	var got []model.BarClose
	n, err := r.Run(context.Background(), []string{"AAPL"}, 60_000, 0, func(bc model.BarClose) {
		got = append(got, bc)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Bars strictly after 60_000: the 120_000 and 180_000 starts.
	if n != 2 {
		t.Fatalf("emitted %d, want 2", n)
	}
	for _, bc := range got {
		if bc.StartMS <= 60_000 {
			t.Errorf("bar at %d should have been filtered", bc.StartMS)
		}
		if bc.Symbol != "AAPL" {
			t.Errorf("unexpected symbol %s", bc.Symbol)
		}
	}
}

func TestReplay_CancelStopsEarly(t *testing.T) {
	r := New(seedDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	var count int
	_, err := r.Run(ctx, nil, 0, 1.0, func(model.BarClose) {
		count++
		cancel() // cancel after the first emit; the next gap sleep must abort
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if count >= 6 {
		t.Errorf("replay did not stop early: emitted %d", count)
	}
}
