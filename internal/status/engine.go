package status

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/metrics"
	"github.com/jkaflik/hundesystem/internal/state"
	"github.com/jkaflik/hundesystem/pkg/channel"
)

// Sensor identifies one published binary sensor.
type Sensor struct {
	Dog      dog.Dog
	Spec     catalog.SensorSpec
	EntityID string
}

// Publisher makes an assessment visible on the host.
type Publisher interface {
	Publish(ctx context.Context, s Sensor, a Assessment) error
}

// TransitionFunc is called when a sensor flips between on and off.
type TransitionFunc func(ctx context.Context, d dog.Dog, sensor dog.Suffix, prev, next Assessment)

// Options tune the evaluation engine. Zero values get defaults.
type Options struct {
	// CoalesceWindow groups state changes arriving close together into one evaluation.
	CoalesceWindow time.Duration
	Location       *time.Location
	Now            func() time.Time
}

type key struct {
	dog    dog.ID
	sensor dog.Suffix
}

// Engine owns the evaluation of every rule for every dog. All evaluation runs
// on the goroutine calling Run.
type Engine struct {
	store     *state.Store
	publisher Publisher
	dogs      []dog.Dog
	rules     []Rule
	sensors   map[dog.Suffix]catalog.SensorSpec
	opts      Options

	onTransition TransitionFunc

	// index maps an input entity ID to the rules reading it.
	index   map[string][]key
	changes chan string
	ticks   chan dog.Suffix

	mu   sync.RWMutex
	last map[key]Assessment
}

// NewEngine returns an engine for dogs. Rules whose sensor is unknown to cat are dropped.
func NewEngine(cat *catalog.Catalog, store *state.Store, publisher Publisher, dogs []dog.Dog, rules []Rule, opts Options) *Engine {
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = 2 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sensors := make(map[dog.Suffix]catalog.SensorSpec, len(rules))
	known := make([]Rule, 0, len(rules))
	for _, r := range rules {
		spec, ok := cat.Sensor(r.Sensor)
		if !ok {
			log.Error().Str("sensor", string(r.Sensor)).Msg("Rule has no sensor in the catalog, skipping it")
			continue
		}
		sensors[r.Sensor] = spec
		known = append(known, r)
	}
	rules = known

	e := &Engine{
		store:     store,
		publisher: publisher,
		dogs:      dogs,
		rules:     rules,
		sensors:   sensors,
		opts:      opts,
		index:     make(map[string][]key),
		changes:   make(chan string, 1024),
		ticks:     make(chan dog.Suffix, len(rules)+1),
		last:      make(map[key]Assessment),
	}

	for _, d := range dogs {
		for _, r := range rules {
			for _, id := range r.Inputs(d.ID) {
				e.index[id] = append(e.index[id], key{dog: d.ID, sensor: r.Sensor})
			}
		}
	}

	return e
}

// OnTransition registers the transition hook. It must be set before Run.
func (e *Engine) OnTransition(fn TransitionFunc) {
	e.onTransition = fn
}

// Rules returns the rules the engine evaluates.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Tracks reports whether any rule reads the entity.
func (e *Engine) Tracks(entityID string) bool {
	_, ok := e.index[entityID]
	return ok
}

// StateChanged schedules the rules reading entityID. Untracked entities are ignored.
func (e *Engine) StateChanged(ctx context.Context, entityID string) {
	if !e.Tracks(entityID) {
		return
	}
	select {
	case e.changes <- entityID:
	case <-ctx.Done():
	}
}

// Tick schedules a periodic evaluation of one rule for every dog.
func (e *Engine) Tick(sensor dog.Suffix) {
	select {
	case e.ticks <- sensor:
	default:
		log.Debug().Str("sensor", string(sensor)).Msg("Evaluation tick already pending")
	}
}

// Assessments returns the last assessment of every sensor of a dog.
func (e *Engine) Assessments(id dog.ID) map[dog.Suffix]Assessment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[dog.Suffix]Assessment)
	for k, a := range e.last {
		if k.dog == id {
			out[k.sensor] = a.clone()
		}
	}
	return out
}

// Run restores the previously published sensors, evaluates everything once
// and then reacts to state changes and ticks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.restore()
	e.evaluateAll(ctx, true)

	in := make(chan string)
	go func() {
		defer close(in)
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-e.changes:
				select {
				case in <- id:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	batches, errs := channel.Batch(in, channel.BatchOptions[string]{
		MaxSize: cap(e.changes),
		MaxWait: e.opts.CoalesceWindow,
	})
	defer func() {
		for range batches {
		}
		for range errs {
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ids, ok := <-batches:
			if !ok {
				return nil
			}
			e.evaluateChanged(ctx, ids)
		case sensor := <-e.ticks:
			e.evaluateSensor(ctx, sensor)
		}
	}
}

func (e *Engine) restore() {
	restored := 0
	for _, d := range e.dogs {
		for _, r := range e.rules {
			st, ok := e.store.Get(e.sensors[r.Sensor].EntityID(d.ID))
			if !ok || hass.IsPlaceholder(st.State) {
				continue
			}

			e.mu.Lock()
			e.last[key{dog: d.ID, sensor: r.Sensor}] = Assessment{
				On:          hass.IsOn(st.State),
				Attributes:  st.Attributes,
				EvaluatedAt: st.LastUpdated,
			}
			e.mu.Unlock()
			restored++
		}
	}

	log.Info().Int("sensors", restored).Msg("Restored published sensor states")
}

func (e *Engine) evaluateAll(ctx context.Context, force bool) {
	for _, d := range e.dogs {
		for _, r := range e.rules {
			e.evaluate(ctx, d, r, force)
		}
	}
}

func (e *Engine) evaluateSensor(ctx context.Context, sensor dog.Suffix) {
	for _, r := range e.rules {
		if r.Sensor != sensor {
			continue
		}
		for _, d := range e.dogs {
			e.evaluate(ctx, d, r, true)
		}
	}
}

// evaluateChanged runs each affected rule once per batch, in rule order.
func (e *Engine) evaluateChanged(ctx context.Context, ids []string) {
	affected := make(map[key]bool)
	for _, id := range ids {
		for _, k := range e.index[id] {
			affected[k] = true
		}
	}

	for _, d := range e.dogs {
		for _, r := range e.rules {
			if affected[key{dog: d.ID, sensor: r.Sensor}] {
				e.evaluate(ctx, d, r, false)
			}
		}
	}
}

// evaluate runs one rule for one dog. Unless forced, an unchanged assessment
// is not published again.
func (e *Engine) evaluate(ctx context.Context, d dog.Dog, r Rule, force bool) {
	start := time.Now()
	now := e.opts.Now().In(e.opts.Location)

	a := r.Evaluate(Env{
		Dog:    d,
		States: e.store.Snapshot(r.Inputs(d.ID)...),
		Now:    now,
	})

	outcome := "off"
	switch {
	case a.Failed():
		outcome = "error"
		log.Error().
			Str("dog", d.ID.String()).
			Str("sensor", string(r.Sensor)).
			Interface("error", a.Attributes["error"]).
			Msg("Status evaluation failed")
	case a.On:
		outcome = "on"
	}
	metrics.Evaluations.WithLabelValues(string(r.Sensor), outcome).Inc()

	k := key{dog: d.ID, sensor: r.Sensor}
	e.mu.RLock()
	prev, hadPrev := e.last[k]
	e.mu.RUnlock()

	if force || !hadPrev || !sameAssessment(prev, a) {
		spec := e.sensors[r.Sensor]
		sensor := Sensor{Dog: d, Spec: spec, EntityID: spec.EntityID(d.ID)}

		if err := e.publisher.Publish(ctx, sensor, a); err != nil {
			log.Error().Err(err).Str("entity_id", sensor.EntityID).Msg("Failed to publish sensor state")
		} else {
			e.store.Set(hass.State{
				EntityID:    sensor.EntityID,
				State:       onOff(a.On),
				Attributes:  a.Attributes,
				LastChanged: now,
				LastUpdated: now,
			})
		}
	}

	e.mu.Lock()
	e.last[k] = a
	e.mu.Unlock()

	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	if hadPrev && prev.On != a.On && e.onTransition != nil {
		e.onTransition(ctx, d, r.Sensor, prev.clone(), a.clone())
	}
}

func sameAssessment(a, b Assessment) bool {
	if a.On != b.On || len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for k, v := range a.Attributes {
		if k == "last_evaluated" {
			continue
		}
		if !reflect.DeepEqual(v, b.Attributes[k]) {
			return false
		}
	}
	return true
}

func onOff(on bool) string {
	if on {
		return hass.BooleanOnValue
	}
	return hass.BooleanOffValue
}
