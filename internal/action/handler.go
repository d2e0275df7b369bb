package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/metrics"
	"github.com/jkaflik/hundesystem/internal/notify"
)

// ErrUnknownAction is returned when pressing an action that does not exist.
var ErrUnknownAction = errors.New("unknown action")

const datetimeLayout = "2006-01-02 15:04:05"

// Host is the part of Home Assistant actions call into.
type Host interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Notifier sends follow-up and emergency notifications.
type Notifier interface {
	Notify(ctx context.Context, d dog.Dog, m notify.Message) notify.Delivery
}

// Result describes one action press.
type Result struct {
	Action   string
	Dog      dog.ID
	Steps    int
	Failed   int
	Errors   []string
	Notified bool
}

// OK reports whether every step succeeded.
func (r Result) OK() bool {
	return r.Failed == 0 && len(r.Errors) == 0
}

type Option func(*Handler)

// WithClock sets the clock and location used to stamp datetimes.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(h *Handler) {
		h.now = now
		h.loc = loc
	}
}

// Handler runs actions against the host.
type Handler struct {
	host     Host
	notifier Notifier
	actions  []Action
	byName   map[string]Action

	now func() time.Time
	loc *time.Location
}

func NewHandler(host Host, notifier Notifier, actions []Action, options ...Option) *Handler {
	h := &Handler{
		host:     host,
		notifier: notifier,
		actions:  actions,
		byName:   make(map[string]Action, len(actions)),
		now:      time.Now,
		loc:      time.Local,
	}
	for _, a := range actions {
		h.byName[a.Name] = a
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Actions returns the known actions in definition order.
func (h *Handler) Actions() []Action {
	return append([]Action(nil), h.actions...)
}

// Lookup returns the action with the given name.
func (h *Handler) Lookup(name string) (Action, bool) {
	a, ok := h.byName[name]
	return a, ok
}

// Press runs every step of the action. Step failures are logged and reported
// in the result, the remaining steps still run.
func (h *Handler) Press(ctx context.Context, d dog.Dog, name string) (result Result, err error) {
	a, ok := h.byName[name]
	if !ok {
		metrics.ActionPresses.WithLabelValues("unknown", "unknown").Inc()
		return Result{Action: name, Dog: d.ID}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}

	logger := log.With().Str("dog", d.ID.String()).Str("action", a.Name).Logger()
	result = Result{Action: a.Name, Dog: d.ID}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("Action panicked")
			result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", rec))
		}

		outcome := "success"
		if !result.OK() {
			outcome = "failure"
		}
		metrics.ActionPresses.WithLabelValues(a.Name, outcome).Inc()
	}()

	now := h.now().In(h.loc)
	for _, step := range a.Steps {
		result.Steps++
		if err := h.run(ctx, d, step, now); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			logger.Error().Err(err).
				Str("op", step.Op.String()).
				Str("suffix", string(step.Suffix)).
				Msg("Action step failed")
		}
	}

	logger.Info().Int("steps", result.Steps).Int("failed", result.Failed).Msg("Action pressed")

	if h.notifier == nil {
		return result, nil
	}

	switch {
	case a.Emergency:
		h.notifier.Notify(ctx, d, notify.Message{
			Title:     "Notfall: " + d.Name,
			Message:   fmt.Sprintf("Für %s wurde ein Notfall ausgelöst.", d.Name),
			Tag:       "emergency",
			Emergency: true,
		})
		result.Notified = true
	case a.FollowUp != nil && result.Failed == 0:
		h.notifier.Notify(ctx, d, a.FollowUp.message(d, a.Name+"_followup"))
		result.Notified = true
	}

	return result, nil
}

func (h *Handler) run(ctx context.Context, d dog.Dog, step Step, now time.Time) error {
	entityID := d.ID.Entity(step.Op.Domain(), step.Suffix)
	data := map[string]any{"entity_id": entityID}

	var service string
	switch step.Op {
	case TurnOn:
		service = "turn_on"
	case TurnOff:
		service = "turn_off"
	case Increment:
		service = "increment"
	case ResetCounter:
		service = "reset"
	case StampNow:
		service = "set_datetime"
		data["datetime"] = now.Format(datetimeLayout)
	case SelectOption:
		service = "select_option"
		data["option"] = step.Value
	case SetText:
		service = "set_value"
		data["value"] = step.Value
	default:
		return fmt.Errorf("unsupported step %s on %s", step.Op, entityID)
	}

	if err := h.host.CallService(ctx, step.Op.Domain(), service, data); err != nil {
		return fmt.Errorf("failed to %s %s: %w", step.Op, entityID, err)
	}
	return nil
}

// ButtonPressed maps a state change of an input_button entity to the pressed
// action. The first state of a freshly created button is not a press.
func ButtonPressed(d dog.Dog, data *hass.EventData) (string, bool) {
	domain, _ := hass.SplitEntityID(data.EntityID)
	if domain != hass.EntityInputButton || data.OldState == nil || data.NewState == nil {
		return "", false
	}
	if hass.IsPlaceholder(data.NewState.State) || data.OldState.State == data.NewState.State {
		return "", false
	}
	suffix, ok := d.ID.Owns(data.EntityID)
	if !ok {
		return "", false
	}
	return string(suffix), true
}
