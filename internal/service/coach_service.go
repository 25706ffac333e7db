package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/cache"
	"github.com/stemsi/exstem-analytics/internal/llm"
	"github.com/stemsi/exstem-analytics/internal/model"
)

// Generator produces commentary text. *llm.Client implements it.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// CoachConfig tunes the coach.
type CoachConfig struct {
	CacheTTL time.Duration
	// LockTTL bounds how long a crashed generator can hold a key.
	LockTTL time.Duration
	// WaitTimeout is how long a caller waits for someone else's generation
	// before getting a generating status.
	WaitTimeout     time.Duration
	GenerateTimeout time.Duration
	PollInterval    time.Duration
}

// coachFlight is one in-process generation that callers can join.
type coachFlight struct {
	done chan struct{}
	res  model.CommentaryResult
}

// CoachService returns AI commentary on snapshots. Concurrent identical
// requests share one generation, across processes through the Locker and
// within a process through an in-memory flight table.
type CoachService struct {
	gen    Generator
	locker cache.Locker
	store  cache.CommentaryStore
	cfg    CoachConfig
	log    zerolog.Logger

	mu      sync.Mutex
	flights map[string]*coachFlight
	calls   atomic.Int64
	now     func() time.Time
}

// NewCoachService creates a new CoachService.
func NewCoachService(gen Generator, locker cache.Locker, store cache.CommentaryStore, cfg CoachConfig, log zerolog.Logger) *CoachService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 7 * 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 20 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &CoachService{
		gen:     gen,
		locker:  locker,
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "coach_service").Logger(),
		flights: make(map[string]*coachFlight),
		now:     time.Now,
	}
}

// GeneratorCalls returns how many times the generator was invoked.
func (s *CoachService) GeneratorCalls() int64 {
	return s.calls.Load()
}

// CommentaryKey addresses a commentary by exam, student, role and snapshot
// content, so any change in the analytics yields a new key.
func CommentaryKey(snap *model.Snapshot, role string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", snap.ExamID, snap.StudentID, role, snap.ContentHash)))
	return hex.EncodeToString(sum[:])
}

// GetCommentary returns commentary on snap for aud. It never fails: AI errors
// degrade to fallback text and long waits to a generating status. The
// request's name and goal are applied to the shared text per caller.
func (s *CoachService) GetCommentary(ctx context.Context, snap *model.Snapshot, aud Audience, req model.CoachRequest) model.CommentaryResult {
	res := s.commentary(ctx, snap, aud, req.BypassCache)
	if res.Status == model.CommentaryReady {
		res.Text = aud.personalize(res.Text, llm.Brief{StudentName: req.StudentName, Goal: req.Goal})
	}
	return res
}

func (s *CoachService) commentary(ctx context.Context, snap *model.Snapshot, aud Audience, bypass bool) model.CommentaryResult {
	key := CommentaryKey(snap, aud.Role())
	base := model.CommentaryResult{
		Role:          aud.Role(),
		Key:           key,
		LowConfidence: snap.Analytics.Confidence.Low,
	}

	if !bypass {
		if res, ok := s.cached(ctx, key, base); ok {
			return res
		}
	}

	s.mu.Lock()
	f, joined := s.flights[key]
	if !joined {
		f = &coachFlight{done: make(chan struct{})}
		s.flights[key] = f
		go s.lead(key, snap, aud, bypass, base, f)
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.res
	case <-timer.C:
	case <-ctx.Done():
	}
	res := base
	res.Status = model.CommentaryGenerating
	return res
}

// lead runs one generation for key. It is detached from any caller so that
// waiters still get a result when the first caller gives up.
func (s *CoachService) lead(key string, snap *model.Snapshot, aud Audience, bypass bool, base model.CommentaryResult, f *coachFlight) {
	defer func() {
		s.mu.Lock()
		delete(s.flights, key)
		s.mu.Unlock()
		close(f.done)
	}()

	ctx := context.Background()
	log := s.log.With().Str("key", key).Str("role", aud.Role()).Logger()

	lease, err := s.awaitLease(ctx, key, bypass, base, &f.res)
	if err != nil {
		log.Error().Err(err).Msg("Commentary lock unavailable, serving fallback")
		f.res = s.fallbackResult(snap, aud, base)
		return
	}
	if lease == nil {
		// Resolved by another process, or still generating there.
		return
	}
	defer func() {
		if err := s.locker.Release(ctx, lease); err != nil {
			log.Warn().Err(err).Msg("Failed to release commentary lock")
		}
	}()

	if !bypass {
		if res, ok := s.cached(ctx, key, base); ok {
			f.res = res
			return
		}
	}

	text, err := s.generate(ctx, lease, snap, aud, log)
	if err != nil {
		log.Warn().Err(err).Msg("AI generation failed, serving fallback")
		f.res = s.fallbackResult(snap, aud, base)
		return
	}

	entry := model.CommentaryEntry{Key: key, Role: aud.Role(), Text: text, CreatedAt: s.now().UTC()}
	if err := s.store.Set(ctx, entry, s.cfg.CacheTTL); err != nil {
		log.Error().Err(err).Msg("Failed to cache commentary")
	}

	f.res = base
	f.res.Status = model.CommentaryReady
	f.res.Source = model.SourceAI
	f.res.Text = text
	log.Info().Msg("Commentary generated")
}

// Student returns commentary written to the student.
func (s *CoachService) Student(ctx context.Context, snap *model.Snapshot, req model.CoachRequest) model.CommentaryResult {
	return s.GetCommentary(ctx, snap, Student{}, req)
}

// Parent returns commentary written to the student's parent.
func (s *CoachService) Parent(ctx context.Context, snap *model.Snapshot, req model.CoachRequest) model.CommentaryResult {
	return s.GetCommentary(ctx, snap, Parent{}, req)
}

// Teacher returns diagnostic notes for the teacher.
func (s *CoachService) Teacher(ctx context.Context, snap *model.Snapshot, req model.CoachRequest) model.CommentaryResult {
	return s.GetCommentary(ctx, snap, Teacher{}, req)
}

// awaitLease takes the generation lease. When another process holds it the
// store is polled until that process finishes, the lease frees up, or the
// wait timeout passes. A nil lease with a nil error means res was filled in.
func (s *CoachService) awaitLease(ctx context.Context, key string, bypass bool, base model.CommentaryResult, res *model.CommentaryResult) (*cache.Lease, error) {
	deadline := s.now().Add(s.cfg.WaitTimeout)
	for {
		lease, ok, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		if !bypass {
			if r, hit := s.cached(ctx, key, base); hit {
				*res = r
				return nil, nil
			}
		}
		if !s.now().Before(deadline) {
			*res = base
			res.Status = model.CommentaryGenerating
			return nil, nil
		}
		time.Sleep(s.cfg.PollInterval)
	}
}

// generate calls the generator while keeping the lease alive.
func (s *CoachService) generate(ctx context.Context, lease *cache.Lease, snap *model.Snapshot, aud Audience, log zerolog.Logger) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(s.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.locker.Extend(ctx, lease, s.cfg.LockTTL); err != nil {
					log.Warn().Err(err).Msg("Failed to extend commentary lock")
					if errors.Is(err, cache.ErrLeaseLost) {
						return
					}
				}
			}
		}
	}()

	s.calls.Add(1)
	text, err := s.gen.Generate(gctx, aud.systemPrompt(), llm.BuildUserPrompt(snap))
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", llm.ErrEmptyCompletion
	}
	return text, nil
}

func (s *CoachService) cached(ctx context.Context, key string, base model.CommentaryResult) (model.CommentaryResult, bool) {
	entry, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Commentary cache read failed")
		return model.CommentaryResult{}, false
	}
	if !ok {
		return model.CommentaryResult{}, false
	}
	res := base
	res.Status = model.CommentaryReady
	res.Source = model.SourceCache
	res.Text = entry.Text
	return res, true
}

func (s *CoachService) fallbackResult(snap *model.Snapshot, aud Audience, base model.CommentaryResult) model.CommentaryResult {
	res := base
	res.Status = model.CommentaryReady
	res.Source = model.SourceFallback
	res.Text = aud.fallback(snap)
	return res
}
