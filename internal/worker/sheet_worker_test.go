package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/model"
)

type fakeSheets struct {
	mu         sync.Mutex
	stored     map[int]model.AnswerSheet
	failBatch  bool
	failSingle map[int]bool
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{stored: make(map[int]model.AnswerSheet), failSingle: make(map[int]bool)}
}

func (f *fakeSheets) Upsert(_ context.Context, s *model.AnswerSheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSingle[s.StudentID] {
		return errors.New("deadlock detected")
	}
	f.stored[s.StudentID] = *s
	return nil
}

func (f *fakeSheets) UpsertBatch(_ context.Context, sheets []model.AnswerSheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBatch {
		return errors.New("batch too large")
	}
	for _, s := range sheets {
		f.stored[s.StudentID] = s
	}
	return nil
}

func (f *fakeSheets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeInvalidator struct {
	mu   sync.Mutex
	keys []int
}

func (f *fakeInvalidator) InvalidateStudent(_ context.Context, _ uuid.UUID, studentID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, studentID)
	return nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestSheetWorkerPersistsQueue(t *testing.T) {
	rdb := newRedis(t)
	store := newFakeSheets()
	inv := &fakeInvalidator{}
	w := NewSheetWorker(store, inv, rdb, zerolog.Nop())
	w.batchTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	examID := uuid.New()
	for i := 1; i <= 3; i++ {
		raw, _ := json.Marshal(model.AnswerSheet{ExamID: examID, StudentID: i, ClassID: 1, Booklet: "A", Answers: "ABCD"})
		rdb.RPush(ctx, config.WorkerKey.PersistSheetsQueue, raw)
	}

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for store.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if store.count() != 3 {
		t.Fatalf("stored = %d, want 3", store.count())
	}
	if len(inv.keys) != 3 {
		t.Errorf("invalidations = %v, want 3", inv.keys)
	}
}

func TestSheetWorkerFallbackRequeues(t *testing.T) {
	rdb := newRedis(t)
	store := newFakeSheets()
	store.failBatch = true
	store.failSingle[2] = true
	inv := &fakeInvalidator{}
	w := NewSheetWorker(store, inv, rdb, zerolog.Nop())
	ctx := context.Background()

	examID := uuid.New()
	w.flushSafe(ctx, []model.AnswerSheet{
		{ExamID: examID, StudentID: 1, Booklet: "A", Answers: "AB"},
		{ExamID: examID, StudentID: 2, Booklet: "A", Answers: "CD"},
	})

	if store.count() != 1 {
		t.Errorf("stored = %d, want 1", store.count())
	}
	if len(inv.keys) != 1 || inv.keys[0] != 1 {
		t.Errorf("invalidations = %v, want [1]", inv.keys)
	}

	items, err := rdb.LRange(ctx, config.WorkerKey.PersistSheetsQueue, 0, -1).Result()
	if err != nil || len(items) != 1 {
		t.Fatalf("queue = %v, %v; want the failed sheet requeued", items, err)
	}
	var sh model.AnswerSheet
	_ = json.Unmarshal([]byte(items[0]), &sh)
	if sh.StudentID != 2 {
		t.Errorf("requeued student = %d, want 2", sh.StudentID)
	}
}
