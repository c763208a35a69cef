package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"FxGuard/internal/domain/models"
	"FxGuard/pkg/logger"
)

// PairValidator is the part of Validator the scheduler drives.
type PairValidator interface {
	ValidatePrices(ctx context.Context, pairs []models.CurrencyPair) map[models.CurrencyPair]models.ValidationResult
}

// RunSummary is the outcome of one scheduled pass.
type RunSummary struct {
	Valid    []models.CurrencyPair
	Rejected map[models.CurrencyPair]models.Reason
	Took     time.Duration
}

// Scheduler re-validates every configured pair on a cron schedule so the cache is
// warm before signals are generated. Overlapping runs are skipped.
type Scheduler struct {
	cron       *cron.Cron
	validator  PairValidator
	pairs      []models.CurrencyPair
	runOnStart bool
	runTimeout time.Duration
	log        *logger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	last   RunSummary
}

type SchedulerConfig struct {
	Specs      []string
	Timezone   string
	RunOnStart bool
	// RunTimeout bounds one pass; zero means 5 minutes.
	RunTimeout time.Duration
}

func NewScheduler(cfg SchedulerConfig, v PairValidator, pairs []models.CurrencyPair, log *logger.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("schedule timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}

	log = log.With("scheduler")
	cl := cronLogger{log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		validator:  v,
		pairs:      pairs,
		runOnStart: cfg.RunOnStart,
		runTimeout: cfg.RunTimeout,
		log:        log,
		ctx:        context.Background(),
	}
	for _, spec := range cfg.Specs {
		if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
			return nil, fmt.Errorf("schedule spec %q: %w", spec, err)
		}
	}
	return s, nil
}

// Start begins firing jobs. Runs are cancelled when ctx is.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.runOnStart {
		go s.tick()
	}
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Info("validation scheduled", logger.String("next", e.Next.Format(time.RFC3339)))
	}
}

// Stop halts the schedule and waits for a running pass up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	s.RunOnce(parent)
}

// RunOnce validates every pair and logs which ones failed.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	results := s.validator.ValidatePrices(ctx, s.pairs)

	sum := RunSummary{Rejected: make(map[models.CurrencyPair]models.Reason)}
	for pair, r := range results {
		if r.IsValid {
			sum.Valid = append(sum.Valid, pair)
		} else {
			sum.Rejected[pair] = r.Reason
		}
	}
	sort.Slice(sum.Valid, func(i, j int) bool { return sum.Valid[i] < sum.Valid[j] })
	sum.Took = time.Since(start)

	fields := []logger.Field{
		logger.Int("valid", len(sum.Valid)),
		logger.Int("rejected", len(sum.Rejected)),
		logger.Duration("took_ms", sum.Took),
	}
	for pair, reason := range sum.Rejected {
		fields = append(fields, logger.String(pair.String(), string(reason)))
	}
	if len(sum.Rejected) > 0 {
		s.log.Warn("scheduled validation finished with rejections", fields...)
	} else {
		s.log.Info("scheduled validation finished", fields...)
	}

	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()
	return sum
}

// LastRun returns the most recent summary.
func (s *Scheduler) LastRun() RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
