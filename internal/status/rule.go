// Package status derives the per-dog binary sensors from helper entity states.
package status

import (
	"fmt"
	"math"
	"time"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/state"
)

// Assessment is the published state of one binary sensor.
type Assessment struct {
	On          bool
	Attributes  map[string]any
	EvaluatedAt time.Time
}

// Failed reports whether the assessment came from a failed evaluation.
func (a Assessment) Failed() bool {
	s, _ := a.Attributes["status"].(string)
	return s == "error"
}

func (a Assessment) clone() Assessment {
	c := a
	c.Attributes = make(map[string]any, len(a.Attributes))
	for k, v := range a.Attributes {
		c.Attributes[k] = v
	}
	return c
}

// Env is the input of one evaluation.
type Env struct {
	Dog    dog.Dog
	States state.Snapshot
	Now    time.Time
}

func (e Env) entity(domain string, s dog.Suffix) string {
	return e.Dog.ID.Entity(domain, s)
}

func (e Env) value(domain string, s dog.Suffix) string {
	return e.States.Value(e.entity(domain, s))
}

func (e Env) on(domain string, s dog.Suffix) bool {
	return hass.IsOn(e.value(domain, s))
}

func (e Env) boolean(s dog.Suffix) bool {
	return e.on(hass.EntityInputBoolean, s)
}

func (e Env) selected(s dog.Suffix) string {
	return e.value(hass.EntityInputSelect, s)
}

func (e Env) text(s dog.Suffix) string {
	v := e.value(hass.EntityInputText, s)
	if hass.IsPlaceholder(v) {
		return ""
	}
	return v
}

// timestamp parses an input_datetime with a date part.
func (e Env) timestamp(s dog.Suffix) (time.Time, bool) {
	return parseTime(e.States.State(e.entity(hass.EntityInputDateTime, s)), e.Now.Location())
}

// clock parses a time-only input_datetime.
func (e Env) clock(s dog.Suffix) (catalog.Clock, bool) {
	v := e.value(hass.EntityInputDateTime, s)
	if hass.IsPlaceholder(v) {
		return catalog.Clock{}, false
	}
	c, err := catalog.ParseClock(v)
	if err != nil {
		return catalog.Clock{}, false
	}
	return c, true
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(st *hass.State, loc *time.Location) (time.Time, bool) {
	if st == nil || hass.IsPlaceholder(st.State) {
		return time.Time{}, false
	}

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, st.State, loc); err == nil {
			return t, true
		}
	}

	if ts, ok := st.Attributes["timestamp"].(float64); ok && ts > 0 {
		return time.Unix(int64(ts), 0).In(loc), true
	}

	return time.Time{}, false
}

// Rule computes one binary sensor of a dog.
type Rule struct {
	Sensor   dog.Suffix
	Interval time.Duration
	// FailSafe is the state reported when evaluation fails.
	FailSafe bool

	inputs   []catalog.EntityRef
	evaluate func(Env) (Assessment, error)
}

// Inputs returns the entity IDs the rule reads for a dog.
func (r Rule) Inputs(id dog.ID) []string {
	out := make([]string, len(r.inputs))
	for i, ref := range r.inputs {
		out[i] = ref.EntityID(id)
	}
	return out
}

// Evaluate runs the rule. It never panics: failures turn into the
// deterministic error assessment.
func (r Rule) Evaluate(env Env) (a Assessment) {
	defer func() {
		if rec := recover(); rec != nil {
			a = r.errorAssessment(fmt.Errorf("panic: %v", rec), env.Now)
		}
	}()

	a, err := r.evaluate(env)
	if err != nil {
		return r.errorAssessment(err, env.Now)
	}
	if a.Attributes == nil {
		a.Attributes = make(map[string]any)
	}
	a.Attributes["last_evaluated"] = env.Now.Format(time.RFC3339)
	a.EvaluatedAt = env.Now
	return a
}

func (r Rule) errorAssessment(err error, now time.Time) Assessment {
	return Assessment{
		On: r.FailSafe,
		Attributes: map[string]any{
			"status":         "error",
			"error":          err.Error(),
			"last_evaluated": now.Format(time.RFC3339),
		},
		EvaluatedAt: now,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
