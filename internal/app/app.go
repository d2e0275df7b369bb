// Package app wires every component into the running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/action"
	"github.com/jkaflik/hundesystem/internal/api"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/config"
	"github.com/jkaflik/hundesystem/internal/dashboard"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/journal"
	"github.com/jkaflik/hundesystem/internal/notify"
	"github.com/jkaflik/hundesystem/internal/provision"
	"github.com/jkaflik/hundesystem/internal/scheduler"
	"github.com/jkaflik/hundesystem/internal/state"
	"github.com/jkaflik/hundesystem/internal/status"
	"github.com/jkaflik/hundesystem/pkg/channel"
)

const eventBufferSize = 256

// Host is everything the service needs from Home Assistant.
type Host interface {
	provision.Host
	notify.Host
	dashboard.Saver
	SetState(ctx context.Context, entityID, state string, attributes map[string]any) error
}

type Deps struct {
	Host Host
	// States loads every entity state of the host.
	States    func(ctx context.Context) ([]hass.State, error)
	Publisher status.Publisher
	// Journal is nil when journaling is disabled.
	Journal *journal.Journal
	Health  map[string]api.HealthFunc
}

type App struct {
	cfg  *config.Config
	deps Deps
	dogs []dog.Dog

	catalog     *catalog.Catalog
	store       *state.Store
	dispatcher  *notify.Dispatcher
	provisioner *provision.Engine
	engine      *status.Engine
	handler     *action.Handler
	router      *action.Router
	scheduler   *scheduler.Scheduler
	api         *api.Server
}

func New(cfg *config.Config, deps Deps) (*App, error) {
	dogs, err := cfg.DogList()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	cat := catalog.New()
	store := state.NewStore()
	dispatcher := notify.NewDispatcher(deps.Host, store, cfg.NotifyOptions())

	engine := status.NewEngine(cat, store, deps.Publisher, dogs, status.Rules(cat, cfg.StatusSettings()), status.Options{
		CoalesceWindow: cfg.Status.CoalesceWindow,
		Location:       loc,
	})

	handler := action.NewHandler(deps.Host, dispatcher, action.All(cat), action.WithClock(time.Now, loc))
	router := action.NewRouter(handler, dispatcher, cat, dogs, cfg.DoorSensors())
	engine.OnTransition(router.OnTransition)

	sched := scheduler.New(loc, engine, handler, dogs)
	if err := sched.ScheduleTicks(engine.Rules()); err != nil {
		return nil, err
	}
	if err := sched.ScheduleDailyReset(cfg.Schedule.DailyReset); err != nil {
		return nil, err
	}

	provisioner := provision.NewEngine(deps.Host, cat, cfg.ProvisionOptions())

	return &App{
		cfg:         cfg,
		deps:        deps,
		dogs:        dogs,
		catalog:     cat,
		store:       store,
		dispatcher:  dispatcher,
		provisioner: provisioner,
		engine:      engine,
		handler:     handler,
		router:      router,
		scheduler:   sched,
		api:         api.NewServer(dogs, engine, handler, provisioner, api.Options{Listen: cfg.API.Listen, Health: deps.Health}),
	}, nil
}

// Close releases the resources held by the app.
func (a *App) Close() error {
	return a.dispatcher.Close()
}

// LoadStates replaces the state store with the current states of the host.
func (a *App) LoadStates(ctx context.Context) error {
	states, err := a.deps.States(ctx)
	if err != nil {
		return fmt.Errorf("failed to load states: %w", err)
	}
	a.store.Replace(states)
	log.Info().Int("entities", a.store.Len()).Msg("Loaded entity states")
	return nil
}

// Provision provisions every dog one after another and delivers a report
// per dog. Only cancellation stops it early.
func (a *App) Provision(ctx context.Context) error {
	for _, d := range a.dogs {
		if err := a.provisionDog(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) provisionDog(ctx context.Context, d dog.Dog) error {
	var report provision.Report

	result, err := a.provisioner.Provision(ctx, d)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case err != nil:
		log.Error().Err(err).Str("dog", d.ID.String()).Msg("Provisioning failed")
		report = provision.FailureReport(d, err)
	default:
		report = provision.NewReport(result)
	}

	if err := a.dispatcher.Persist(ctx, report.NotificationID, report.Title, report.Message); err != nil {
		log.Error().Err(err).Str("dog", d.ID.String()).Msg("Failed to create the provisioning report")
	}

	if a.cfg.Notify.PushReport {
		a.dispatcher.Notify(ctx, d, notify.Message{
			Title:   report.Title,
			Message: report.Message,
			Tag:     "setup",
		})
	}
	return nil
}

// Dashboards exports and saves the dashboard of every dog that wants one.
// Failures are logged only.
func (a *App) Dashboards(ctx context.Context) {
	for _, d := range a.dogs {
		if dc, ok := a.cfg.DogConfig(d.ID); ok && !dc.WantsDashboard() {
			continue
		}

		logger := log.With().Str("dog", d.ID.String()).Logger()
		cfg := dashboard.Build(a.catalog, d)

		if dir := a.cfg.Dashboard.OutputDir; dir != "" {
			path, err := dashboard.Export(dir, d, cfg)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to export dashboard")
			} else {
				logger.Info().Str("path", path).Msg("Exported dashboard")
			}
		}

		if err := dashboard.Save(ctx, a.deps.Host, d, cfg); err != nil {
			logger.Warn().Err(err).Msg("Failed to save dashboard")
			continue
		}
		logger.Info().Str("url_path", dashboard.Dashboard(d).URLPath).Msg("Saved dashboard")
	}
}

// Serve runs the engine, the scheduler, the API, the journal and the event
// consumers until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context, events <-chan *hass.EventMessage) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error { return a.api.Run(gctx) })
	if a.deps.Journal != nil {
		g.Go(func() error { return a.deps.Journal.Run(gctx) })
	}

	streams := channel.Tee(events, 2)
	stateChanges := channel.Filter(streams[0], func(m *hass.EventMessage) bool {
		return m.Event.EventType == hass.EventTypeStateChanged
	})
	routed := channel.Buffered(streams[1], eventBufferSize)

	g.Go(func() error { return a.trackStates(gctx, stateChanges) })
	g.Go(func() error {
		defer drain(routed)
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg, ok := <-routed:
				if !ok {
					return nil
				}
				a.route(gctx, msg)
			}
		}
	})

	log.Info().Int("dogs", len(a.dogs)).Msg("Hundesystem running")
	return g.Wait()
}

// trackStates feeds state changes into the store, the engine and the journal.
// It fails when the event stream ends before ctx is done.
func (a *App) trackStates(ctx context.Context, events <-chan *hass.EventMessage) error {
	defer drain(events)

	for {
		var msg *hass.EventMessage
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("event stream from Home Assistant ended")
			}
			msg = m
		}

		data, err := msg.Event.StateChanged()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to decode state change")
			continue
		}

		a.store.Apply(data)
		a.engine.StateChanged(ctx, data.EntityID)
		if a.deps.Journal != nil {
			a.deps.Journal.Record(ctx, data)
		}
	}
}

// drain keeps reading ch in the background so the producers feeding it can
// finish once the subscription closes.
func drain[T any](ch <-chan T) {
	go func() {
		for range ch {
		}
	}()
}

// route hands events to the action router. Host calls made here never block
// the state tracking.
func (a *App) route(ctx context.Context, msg *hass.EventMessage) {
	if ctx.Err() != nil {
		return
	}

	switch msg.Event.EventType {
	case hass.EventTypeStateChanged:
		data, err := msg.Event.StateChanged()
		if err != nil {
			return
		}
		a.router.HandleStateChange(ctx, data)

	case hass.EventTypeNotificationAction:
		data, err := msg.Event.NotificationAction()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to decode notification action")
			return
		}
		result, err := a.router.HandleNotificationAction(ctx, data)
		if err != nil {
			log.Warn().Err(err).Str("action", data.Action).Msg("Notification action not handled")
			return
		}
		log.Info().Str("action", data.Action).Str("dog", result.Dog.String()).Msg("Handled notification action")
	}
}
