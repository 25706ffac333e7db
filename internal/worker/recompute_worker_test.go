package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/service"
)

type countingSweeper struct {
	runs atomic.Int32
	fail bool
}

func (s *countingSweeper) RecomputeStaleSnapshots(context.Context) (service.RecomputeSummary, error) {
	s.runs.Add(1)
	if s.fail {
		return service.RecomputeSummary{}, errors.New("db down")
	}
	return service.RecomputeSummary{Scanned: 3, Processed: 1, Completed: 1}, nil
}

func TestRecomputeWorkerSweepsUntilCancelled(t *testing.T) {
	for _, fail := range []bool{false, true} {
		sw := &countingSweeper{fail: fail}
		w := NewRecomputeWorker(sw, 5*time.Millisecond, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			w.Start(ctx)
			close(done)
		}()

		deadline := time.Now().Add(2 * time.Second)
		for sw.runs.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("worker did not stop after cancel")
		}
		if sw.runs.Load() < 2 {
			t.Errorf("fail=%v: expected at least 2 sweeps, got %d", fail, sw.runs.Load())
		}
	}
}
