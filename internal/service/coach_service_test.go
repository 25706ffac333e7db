package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/analytics"
	"github.com/stemsi/exstem-analytics/internal/cache"
	"github.com/stemsi/exstem-analytics/internal/llm"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

// fakeGenerator counts calls and can be told to fail or to stall.
type fakeGenerator struct {
	calls atomic.Int32
	fails atomic.Int32
	delay time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.fails.Load() > 0 {
		g.fails.Add(-1)
		return "", errors.New("upstream 503")
	}
	return "Keep practising algebra.", nil
}

func coachSnapshot() *model.Snapshot {
	return &model.Snapshot{
		ExamID:      uuid.MustParse("0b8f5c1e-4d7a-4c55-9a51-3f7f1b6c2a10"),
		StudentID:   7,
		ContentHash: "c0ffee",
		Result: scoring.ScoredResult{
			StudentID:    7,
			Questions:    30,
			TotalCorrect: 20,
			TotalWrong:   9,
			TotalBlank:   1,
			TotalNet:     17,
			Subjects:     []scoring.SubjectScore{{Subject: "MAT", Correct: 20, Wrong: 9, Blank: 1, RawNet: "17", Net: 17}},
		},
		Analytics: analytics.Output{
			Composite:  analytics.Composite{ExamType: "TKA", Base: 100, Score: 117},
			Confidence: analytics.Confidence{Score: 0.42, Level: "low", Low: true},
			TopicReport: analytics.TopicReport{
				Gaps:      []analytics.Gap{{Topic: "fractions", Subject: "MAT", Mastery: 0.2, RootCause: true}},
				Strengths: []string{"sets"},
			},
		},
	}
}

func newCoach(gen Generator, locker cache.Locker, store cache.CommentaryStore) *CoachService {
	return NewCoachService(gen, locker, store, CoachConfig{
		CacheTTL:        time.Hour,
		LockTTL:         time.Second,
		WaitTimeout:     2 * time.Second,
		GenerateTimeout: 2 * time.Second,
		PollInterval:    5 * time.Millisecond,
	}, zerolog.Nop())
}

func TestCoachSingleGeneration(t *testing.T) {
	gen := &fakeGenerator{delay: 50 * time.Millisecond}
	coach := newCoach(gen, cache.NewMemoryLocker(), cache.NewMemoryCommentaryStore())
	snap := coachSnapshot()

	var wg sync.WaitGroup
	results := make([]model.CommentaryResult, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = coach.GetCommentary(context.Background(), snap, Student{}, model.CoachRequest{})
		}(i)
	}
	wg.Wait()

	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("generator calls = %d, want 1", got)
	}
	for i, r := range results {
		if r.Status != model.CommentaryReady || r.Text != "Keep practising algebra." {
			t.Errorf("result %d = %+v", i, r)
		}
		if r.Source != model.SourceAI && r.Source != model.SourceCache {
			t.Errorf("result %d source = %s", i, r.Source)
		}
	}

	again := coach.GetCommentary(context.Background(), snap, Student{}, model.CoachRequest{})
	if again.Source != model.SourceCache {
		t.Errorf("source = %s, want cache", again.Source)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("cache hit should not call the generator")
	}
}

func TestCoachSingleGenerationAcrossProcesses(t *testing.T) {
	gen := &fakeGenerator{delay: 50 * time.Millisecond}
	locker := cache.NewMemoryLocker()
	store := cache.NewMemoryCommentaryStore()
	nodes := []*CoachService{newCoach(gen, locker, store), newCoach(gen, locker, store)}
	snap := coachSnapshot()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := nodes[i%2].GetCommentary(context.Background(), snap, Teacher{}, model.CoachRequest{})
			if r.Status != model.CommentaryReady {
				t.Errorf("status = %s, want ready", r.Status)
			}
		}(i)
	}
	wg.Wait()

	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("generator calls = %d, want 1", got)
	}
}

func TestCoachFallbackNotCached(t *testing.T) {
	gen := &fakeGenerator{}
	gen.fails.Store(1)
	store := cache.NewMemoryCommentaryStore()
	coach := newCoach(gen, cache.NewMemoryLocker(), store)
	snap := coachSnapshot()
	ctx := context.Background()

	first := coach.GetCommentary(ctx, snap, Student{}, model.CoachRequest{})
	if first.Source != model.SourceFallback {
		t.Fatalf("source = %s, want fallback", first.Source)
	}
	if first.Text == "" || !strings.Contains(first.Text, "fractions") {
		t.Errorf("fallback text = %q, want the first gap named", first.Text)
	}
	if !first.LowConfidence {
		t.Error("low confidence flag should follow the snapshot")
	}
	if _, ok, _ := store.Get(ctx, first.Key); ok {
		t.Fatal("fallback text must not be cached")
	}

	second := coach.GetCommentary(ctx, snap, Student{}, model.CoachRequest{})
	if second.Source != model.SourceAI {
		t.Errorf("source = %s, want ai on retry", second.Source)
	}
	if got := gen.calls.Load(); got != 2 {
		t.Errorf("generator calls = %d, want 2", got)
	}
}

func TestCoachBypassCache(t *testing.T) {
	gen := &fakeGenerator{}
	coach := newCoach(gen, cache.NewMemoryLocker(), cache.NewMemoryCommentaryStore())
	snap := coachSnapshot()
	ctx := context.Background()

	coach.GetCommentary(ctx, snap, Parent{}, model.CoachRequest{})
	r := coach.GetCommentary(ctx, snap, Parent{}, model.CoachRequest{BypassCache: true})
	if r.Source != model.SourceAI {
		t.Errorf("source = %s, want ai", r.Source)
	}
	if got := gen.calls.Load(); got != 2 {
		t.Errorf("generator calls = %d, want 2", got)
	}
}

func TestCoachWaitTimeoutReportsGenerating(t *testing.T) {
	gen := &fakeGenerator{delay: 150 * time.Millisecond}
	store := cache.NewMemoryCommentaryStore()
	coach := NewCoachService(gen, cache.NewMemoryLocker(), store, CoachConfig{
		CacheTTL:        time.Hour,
		LockTTL:         time.Second,
		WaitTimeout:     20 * time.Millisecond,
		GenerateTimeout: time.Second,
		PollInterval:    5 * time.Millisecond,
	}, zerolog.Nop())
	snap := coachSnapshot()
	ctx := context.Background()

	r := coach.GetCommentary(ctx, snap, Student{}, model.CoachRequest{})
	if r.Status != model.CommentaryGenerating {
		t.Fatalf("status = %s, want generating", r.Status)
	}

	// The generation keeps running after the caller gave up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := store.Get(ctx, r.Key); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detached generation never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	done := coach.GetCommentary(ctx, snap, Student{}, model.CoachRequest{})
	if done.Source != model.SourceCache {
		t.Errorf("source = %s, want cache", done.Source)
	}
	if got := gen.calls.Load(); got != 1 {
		t.Errorf("generator calls = %d, want 1", got)
	}
}

func TestCoachReclaimsExpiredLock(t *testing.T) {
	gen := &fakeGenerator{}
	locker := cache.NewMemoryLocker()
	coach := newCoach(gen, locker, cache.NewMemoryCommentaryStore())
	snap := coachSnapshot()

	// A crashed holder that never releases.
	if _, ok, _ := locker.Acquire(context.Background(), CommentaryKey(snap, "student"), 30*time.Millisecond); !ok {
		t.Fatal("seed lease")
	}

	r := coach.GetCommentary(context.Background(), snap, Student{}, model.CoachRequest{})
	if r.Source != model.SourceAI {
		t.Errorf("source = %s, want ai after lock expiry", r.Source)
	}
}

func TestCommentaryKey(t *testing.T) {
	snap := coachSnapshot()
	base := CommentaryKey(snap, "student")

	if CommentaryKey(snap, "student") != base {
		t.Error("key must be deterministic")
	}
	if CommentaryKey(snap, "parent") == base {
		t.Error("role must change the key")
	}
	changed := *snap
	changed.ContentHash = "beef"
	if CommentaryKey(&changed, "student") == base {
		t.Error("content hash must change the key")
	}
}

func TestParseAudience(t *testing.T) {
	for _, role := range []string{"student", "Parent", "TEACHER"} {
		aud, ok := ParseAudience(role)
		if !ok || aud.Role() != strings.ToLower(role) {
			t.Errorf("ParseAudience(%q) = %v, %v", role, aud, ok)
		}
	}
	if _, ok := ParseAudience("principal"); ok {
		t.Error("unknown role accepted")
	}
}

func TestTeacherFallbackListsRemediationOrder(t *testing.T) {
	snap := coachSnapshot()
	snap.Analytics.Gaps = append(snap.Analytics.Gaps, analytics.Gap{Topic: "algebra", Subject: "MAT", BlockedBy: []string{"fractions"}})

	text := Teacher{}.fallback(snap)
	if !strings.Contains(text, "fractions -> algebra") {
		t.Errorf("teacher fallback = %q", text)
	}
}

func TestCoachRolesCachedSeparately(t *testing.T) {
	gen := &fakeGenerator{}
	coach := newCoach(gen, cache.NewMemoryLocker(), cache.NewMemoryCommentaryStore())
	snap := coachSnapshot()
	ctx := context.Background()

	student := coach.Student(ctx, snap, model.CoachRequest{})
	parent := coach.Parent(ctx, snap, model.CoachRequest{})
	teacher := coach.Teacher(ctx, snap, model.CoachRequest{})

	if gen.calls.Load() != 3 {
		t.Fatalf("generator calls = %d, want one per role", gen.calls.Load())
	}
	if student.Key == parent.Key || parent.Key == teacher.Key {
		t.Errorf("roles share a key: %s %s %s", student.Key, parent.Key, teacher.Key)
	}
	for _, r := range []model.CommentaryResult{student, parent, teacher} {
		if r.Source != model.SourceAI || !r.LowConfidence {
			t.Errorf("%s: %+v", r.Role, r)
		}
	}

	if again := coach.Parent(ctx, snap, model.CoachRequest{}); again.Source != model.SourceCache {
		t.Errorf("parent source = %s, want cache", again.Source)
	}
}

// echoGenerator returns the prompt it was given.
type echoGenerator struct{ calls atomic.Int32 }

func (g *echoGenerator) Generate(_ context.Context, _, user string) (string, error) {
	g.calls.Add(1)
	return user, nil
}

func TestCoachBriefAppliedPerCaller(t *testing.T) {
	gen := &echoGenerator{}
	store := cache.NewMemoryCommentaryStore()
	coach := newCoach(gen, cache.NewMemoryLocker(), store)
	snap := coachSnapshot()
	ctx := context.Background()

	first := coach.Parent(ctx, snap, model.CoachRequest{StudentName: "Ayu", Goal: "kedokteran"})
	second := coach.Parent(ctx, snap, model.CoachRequest{StudentName: "Budi", Goal: "hukum"})

	if gen.calls.Load() != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls.Load())
	}
	if first.Key != second.Key {
		t.Fatalf("brief changed the key: %s vs %s", first.Key, second.Key)
	}
	if second.Source != model.SourceCache {
		t.Errorf("second source = %s, want cache", second.Source)
	}
	if !strings.Contains(first.Text, "Ayu") || !strings.Contains(first.Text, "kedokteran") {
		t.Errorf("first text missing its brief: %q", first.Text)
	}
	for _, other := range []string{"Ayu", "kedokteran"} {
		if strings.Contains(second.Text, other) {
			t.Errorf("second text carries %q from another caller: %q", other, second.Text)
		}
	}
	if !strings.Contains(second.Text, "Budi") || !strings.Contains(second.Text, "hukum") {
		t.Errorf("second text missing its brief: %q", second.Text)
	}

	entry, ok, err := store.Get(ctx, first.Key)
	if err != nil || !ok {
		t.Fatalf("cached entry: ok=%v err=%v", ok, err)
	}
	if strings.Contains(entry.Text, "Ayu") || strings.Contains(entry.Text, "Budi") {
		t.Errorf("cached text holds a caller's name: %q", entry.Text)
	}
}

func TestCoachBriefAppliedToFallback(t *testing.T) {
	gen := &fakeGenerator{}
	gen.fails.Store(2)
	coach := newCoach(gen, cache.NewMemoryLocker(), cache.NewMemoryCommentaryStore())
	snap := coachSnapshot()
	ctx := context.Background()

	ayu := coach.Student(ctx, snap, model.CoachRequest{StudentName: "Ayu"})
	budi := coach.Student(ctx, snap, model.CoachRequest{StudentName: "Budi"})

	if ayu.Source != model.SourceFallback || budi.Source != model.SourceFallback {
		t.Fatalf("sources = %s, %s, want fallback", ayu.Source, budi.Source)
	}
	if !strings.HasPrefix(ayu.Text, "Hi Ayu,") || !strings.HasPrefix(budi.Text, "Hi Budi,") {
		t.Errorf("fallback not personalised: %q / %q", ayu.Text, budi.Text)
	}
}

func TestPersonalizeWithoutBrief(t *testing.T) {
	for _, aud := range []Audience{Student{}, Parent{}, Teacher{}} {
		if got := aud.personalize("Keep going.", llm.Brief{}); got != "Keep going." {
			t.Errorf("%s: personalize changed text to %q", aud.Role(), got)
		}
	}
	got := Teacher{}.personalize("- Net 17.", llm.Brief{StudentName: "Ayu", Goal: "hukum"})
	if got != "Student: Ayu\nGoal: hukum\n\n- Net 17." {
		t.Errorf("teacher personalize = %q", got)
	}
}
