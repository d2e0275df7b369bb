// Package scheduler runs the periodic evaluator ticks and the daily reset.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/internal/action"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/status"
)

const DefaultDailyReset = "0 0 * * *"

// DailyResetAction is the action pressed for every dog by the daily reset job.
const DailyResetAction = "daily_reset"

// Ticker schedules the evaluation of one rule.
type Ticker interface {
	Tick(sensor dog.Suffix)
}

// Presser runs a named action for a dog.
type Presser interface {
	Press(ctx context.Context, d dog.Dog, name string) (action.Result, error)
}

// Entry describes one scheduled job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

type job struct {
	id   cron.EntryID
	name string
	spec string
}

type Scheduler struct {
	cron    *cron.Cron
	ticker  Ticker
	presser Presser
	dogs    []dog.Dog
	jobs    []job

	ctx context.Context
}

func New(loc *time.Location, ticker Ticker, presser Presser, dogs []dog.Dog) *Scheduler {
	if loc == nil {
		loc = time.Local
	}

	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(
				cron.SkipIfStillRunning(logger),
				cron.Recover(logger),
			),
			cron.WithLogger(logger),
		),
		ticker:  ticker,
		presser: presser,
		dogs:    dogs,
		ctx:     context.Background(),
	}
}

// ScheduleTicks adds an "@every <interval>" job for every rule with an interval.
func (s *Scheduler) ScheduleTicks(rules []status.Rule) error {
	for _, r := range rules {
		if r.Interval <= 0 {
			continue
		}

		sensor := r.Sensor
		spec := "@every " + r.Interval.String()
		if err := s.add("tick_"+string(sensor), spec, func() { s.ticker.Tick(sensor) }); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleDailyReset adds the daily reset job. An empty spec uses DefaultDailyReset.
func (s *Scheduler) ScheduleDailyReset(spec string) error {
	if spec == "" {
		spec = DefaultDailyReset
	}
	return s.add(DailyResetAction, spec, s.dailyReset)
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("failed to schedule %s with %q: %w", name, spec, err)
	}
	s.jobs = append(s.jobs, job{id: id, name: name, spec: spec})
	log.Debug().Str("job", name).Str("spec", spec).Msg("Scheduled job")
	return nil
}

// Entries returns the scheduled jobs ordered by name. Next is zero until Run starts.
func (s *Scheduler) Entries() []Entry {
	entries := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		entries = append(entries, Entry{Name: j.name, Spec: j.spec, Next: s.cron.Entry(j.id).Next})
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Name < entries[k].Name })
	return entries
}

// Run starts the jobs and blocks until ctx is done. Running jobs are awaited.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")

	<-ctx.Done()

	<-s.cron.Stop().Done()
	log.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) dailyReset() {
	for _, d := range s.dogs {
		result, err := s.presser.Press(s.ctx, d, DailyResetAction)
		if err != nil {
			log.Error().Err(err).Str("dog", d.ID.String()).Msg("Daily reset failed")
			continue
		}
		if !result.OK() {
			log.Warn().Str("dog", d.ID.String()).Int("failed", result.Failed).Msg("Daily reset finished with failures")
			continue
		}
		log.Info().Str("dog", d.ID.String()).Msg("Daily reset done")
	}
}

// cronLogger routes cron's logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
