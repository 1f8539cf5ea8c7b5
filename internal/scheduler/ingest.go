package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kjannette/pvpc-backend/internal/metrics"
	"github.com/kjannette/pvpc-backend/internal/models"
)

type State string

const (
	StateIdle         State = "idle"
	StateFetching     State = "fetching"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
	StateRetryPending State = "retry_pending"
)

const (
	TriggerMain   = "main"
	TriggerRetry  = "retry"
	TriggerReset  = "reset"
	TriggerBackup = "backup"
	TriggerManual = "manual"
)

// Ingester is the slice of the price service the scheduler drives.
type Ingester interface {
	Ingest(ctx context.Context) (int, error)
	HasDataForDate(ctx context.Context, day time.Time) (bool, error)
	ApplyFallback(ctx context.Context, day time.Time) (int, error)
	Breaker() models.CircuitBreakerState
}

type Config struct {
	Location            *time.Location
	MainSpec            string
	RetrySpec           string
	ResetSpec           string
	BackupEnabled       bool
	BackupSpec          string
	BackupThresholdHour int // 0..23; anything else means 21
	RunTimeout          time.Duration
	Now                 func() time.Time

	// OnFallback is told about every fallback attempt; err is non-nil when no
	// data could be copied.
	OnFallback func(ctx context.Context, day time.Time, saved int, err error)
}

type trigger struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      func(ctx context.Context)
}

type TriggerStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"nextRun"`
}

type Status struct {
	State           State                      `json:"state"`
	Running         bool                       `json:"running"`
	LastExecution   *time.Time                 `json:"lastExecution"`
	LastSuccess     *time.Time                 `json:"lastSuccess"`
	HasRetriedToday bool                       `json:"hasRetriedToday"`
	LastError       string                     `json:"lastError,omitempty"`
	Timezone        string                     `json:"timezone"`
	Triggers        []TriggerStatus            `json:"triggers"`
	CircuitBreaker  models.CircuitBreakerState `json:"circuitBreaker"`
}

// IngestScheduler runs the daily ingestion triggers on a cron in the configured timezone.
type IngestScheduler struct {
	svc      Ingester
	cfg      Config
	metrics  *metrics.Metrics
	log      zerolog.Logger
	cron     *cron.Cron
	triggers []trigger

	mu            sync.Mutex
	running       bool
	state         State
	hasRetried    bool
	lastExecution time.Time
	lastSuccess   time.Time
	lastError     string
}

func NewIngestScheduler(svc Ingester, cfg Config, m *metrics.Metrics, log zerolog.Logger) (*IngestScheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MainSpec == "" {
		cfg.MainSpec = "15 20 * * *"
	}
	if cfg.RetrySpec == "" {
		cfg.RetrySpec = "15 23 * * *"
	}
	if cfg.ResetSpec == "" {
		cfg.ResetSpec = "0 0 * * *"
	}
	if cfg.BackupSpec == "" {
		cfg.BackupSpec = "0 */3 * * *"
	}
	if cfg.BackupThresholdHour < 0 || cfg.BackupThresholdHour > 23 {
		cfg.BackupThresholdHour = 21
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &IngestScheduler{
		svc:     svc,
		cfg:     cfg,
		metrics: m,
		log:     log,
		state:   StateIdle,
	}

	clog := cronLogger{log: log}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		cron.WithLogger(clog),
	)

	s.triggers = []trigger{
		{name: TriggerMain, spec: cfg.MainSpec, run: s.runMain},
		{name: TriggerRetry, spec: cfg.RetrySpec, run: s.runRetry},
		{name: TriggerReset, spec: cfg.ResetSpec, run: s.runReset},
	}
	if cfg.BackupEnabled {
		s.triggers = append(s.triggers, trigger{name: TriggerBackup, spec: cfg.BackupSpec, run: s.runBackup})
	}

	for i := range s.triggers {
		t := &s.triggers[i]
		sched, err := cron.ParseStandard(t.spec)
		if err != nil {
			return nil, fmt.Errorf("%s trigger %q: %w", t.name, t.spec, err)
		}
		t.schedule = sched
		s.cron.Schedule(sched, cron.FuncJob(s.guard(t.name, t.run)))
	}
	return s, nil
}

func (s *IngestScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("scheduler already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()

	ev := s.log.Info().Str("timezone", s.cfg.Location.String())
	for _, t := range s.triggers {
		ev = ev.Str(t.name, t.spec)
	}
	ev.Msg("scheduler started")
}

// Stop halts the cron and waits for running jobs, up to ctx.
func (s *IngestScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
	s.log.Info().Msg("scheduler stopped")
}

func (s *IngestScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow performs one ingestion outside the schedule.
func (s *IngestScheduler) RunNow(ctx context.Context) (int, error) {
	s.log.Info().Msg("manual ingestion triggered")
	return s.execute(ctx, TriggerManual)
}

func (s *IngestScheduler) Status() Status {
	now := s.cfg.Now().In(s.cfg.Location)

	s.mu.Lock()
	st := Status{
		State:           s.state,
		Running:         s.running,
		LastExecution:   timePtr(s.lastExecution),
		LastSuccess:     timePtr(s.lastSuccess),
		HasRetriedToday: s.hasRetried,
		LastError:       s.lastError,
		Timezone:        s.cfg.Location.String(),
	}
	s.mu.Unlock()

	st.Triggers = make([]TriggerStatus, 0, len(s.triggers))
	for _, t := range s.triggers {
		st.Triggers = append(st.Triggers, TriggerStatus{Name: t.name, Spec: t.spec, Next: t.schedule.Next(now)})
	}
	st.CircuitBreaker = s.svc.Breaker()
	return st
}

// --- triggers ---

func (s *IngestScheduler) runMain(ctx context.Context) {
	s.log.Info().Msg("starting daily price update")
	if _, err := s.execute(ctx, TriggerMain); err == nil {
		return
	}

	now := s.cfg.Now().In(s.cfg.Location)
	retry, ok := s.findTrigger(TriggerRetry)
	if !ok || !sameDay(retry.schedule.Next(now), now) {
		return
	}
	s.mu.Lock()
	if !s.hasRetried {
		s.state = StateRetryPending
	}
	s.mu.Unlock()
}

// runRetry makes the single second attempt of the day. Existing data makes it
// a no-op; a failed attempt falls back to the latest stored day.
func (s *IngestScheduler) runRetry(ctx context.Context) {
	today := s.today()
	has, err := s.svc.HasDataForDate(ctx, today)
	if err != nil {
		s.log.Error().Err(err).Msg("retry check failed")
		return
	}
	if has {
		s.log.Info().Str("date", models.DayKey(today)).Msg("data already present, retry skipped")
		return
	}

	s.mu.Lock()
	if s.hasRetried {
		s.mu.Unlock()
		s.log.Info().Msg("retry already attempted today, skipping")
		return
	}
	s.hasRetried = true
	s.state = StateRetryPending
	s.mu.Unlock()

	s.log.Info().Msg("starting retry price update")
	if _, err := s.execute(ctx, TriggerRetry); err != nil {
		s.fallback(ctx, today)
	}
}

func (s *IngestScheduler) runReset(context.Context) {
	s.mu.Lock()
	s.hasRetried = false
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Info().Msg("retry flag reset for new day")
}

func (s *IngestScheduler) runBackup(ctx context.Context) {
	now := s.cfg.Now().In(s.cfg.Location)
	if now.Hour() < s.cfg.BackupThresholdHour {
		return
	}
	today := models.DayOf(now)
	has, err := s.svc.HasDataForDate(ctx, today)
	if err != nil {
		s.log.Error().Err(err).Msg("backup check failed")
		return
	}
	if has {
		return
	}
	s.log.Warn().Str("date", models.DayKey(today)).Msg("no data for today past threshold, running backup fetch")
	_, _ = s.execute(ctx, TriggerBackup)
}

// --- internals ---

func (s *IngestScheduler) findTrigger(name string) (trigger, bool) {
	for _, t := range s.triggers {
		if t.name == name {
			return t, true
		}
	}
	return trigger{}, false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *IngestScheduler) today() time.Time { return models.Today(s.cfg.Now(), s.cfg.Location) }

func (s *IngestScheduler) execute(ctx context.Context, name string) (int, error) {
	start := s.cfg.Now()
	s.mu.Lock()
	s.state = StateFetching
	s.lastExecution = start
	s.mu.Unlock()

	saved, err := s.svc.Ingest(ctx)
	elapsed := s.cfg.Now().Sub(start)

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.lastError = err.Error()
	} else {
		s.state = StateSucceeded
		s.lastSuccess = s.cfg.Now()
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.ObserveIngest(name, "failure", elapsed)
		s.log.Error().Err(err).Str("trigger", name).Dur("duration", elapsed).Msg("price update failed")
		return 0, err
	}
	s.metrics.ObserveIngest(name, "success", elapsed)
	s.log.Info().Str("trigger", name).Int("saved", saved).Dur("duration", elapsed).Msg("price update succeeded")
	return saved, nil
}

func (s *IngestScheduler) fallback(ctx context.Context, day time.Time) {
	s.log.Warn().Str("date", models.DayKey(day)).Msg("using previous day data as fallback")
	saved, err := s.svc.ApplyFallback(ctx, day)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback strategy failed")
	}
	if s.cfg.OnFallback != nil {
		s.cfg.OnFallback(ctx, day, saved, err)
	}
}

// guard gives a trigger its own deadline and keeps a panic from escaping the job.
func (s *IngestScheduler) guard(name string, run func(ctx context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("trigger", name).Interface("panic", r).Msg("trigger panicked")
				s.mu.Lock()
				s.state = StateFailed
				s.lastError = fmt.Sprint(r)
				s.mu.Unlock()
			}
		}()
		run(ctx)
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
