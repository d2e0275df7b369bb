package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/notify"
	"github.com/jkaflik/hundesystem/internal/status"
)

// ErrUnknownDog is returned for events naming a dog that is not configured.
var ErrUnknownDog = errors.New("unknown dog")

// replies maps reply actions to the action they trigger. An empty action
// acknowledges the reply without changing anything.
var replies = map[string]string{
	ReplyPoopYes:    "poop",
	ReplyPoopNo:     "",
	ReplyOutsideYes: "outside",
}

// Router turns host events into action presses and notifications.
type Router struct {
	handler  *Handler
	notifier Notifier
	catalog  *catalog.Catalog
	dogs     map[dog.ID]dog.Dog
	doors    map[string]dog.ID
}

// NewRouter builds a router. doors maps door sensor entity IDs to their dog.
func NewRouter(handler *Handler, notifier Notifier, cat *catalog.Catalog, dogs []dog.Dog, doors map[string]dog.ID) *Router {
	r := &Router{
		handler:  handler,
		notifier: notifier,
		catalog:  cat,
		dogs:     make(map[dog.ID]dog.Dog, len(dogs)),
		doors:    doors,
	}
	for _, d := range dogs {
		r.dogs[d.ID] = d
	}
	if r.doors == nil {
		r.doors = map[string]dog.ID{}
	}
	return r
}

// Dog returns a configured dog by ID.
func (r *Router) Dog(id dog.ID) (dog.Dog, bool) {
	d, ok := r.dogs[id]
	return d, ok
}

// HandleNotificationAction runs the action behind a notification reply. The
// reply identifier is "<ACTION>:<dog_id>"; the dog may also come in the
// event payload.
func (r *Router) HandleNotificationAction(ctx context.Context, data *hass.NotificationActionData) (Result, error) {
	replyAction, id, ok := notify.ParseReplyAction(data.Action)
	if !ok {
		normalized, err := dog.Normalize(data.Dog)
		if err != nil {
			return Result{Action: replyAction}, fmt.Errorf("%w: reply %q names no dog", ErrUnknownDog, data.Action)
		}
		id = normalized
	}

	d, ok := r.dogs[id]
	if !ok {
		return Result{Action: replyAction, Dog: id}, fmt.Errorf("%w: %s", ErrUnknownDog, id)
	}

	name, known := replies[replyAction]
	if !known {
		name = strings.ToLower(replyAction)
	}
	if name == "" {
		log.Info().Str("dog", d.ID.String()).Str("reply", replyAction).Msg("Notification reply acknowledged")
		return Result{Action: strings.ToLower(replyAction), Dog: d.ID}, nil
	}

	return r.handler.Press(ctx, d, name)
}

// HandleStateChange presses the action of a dog's input_button and asks
// about the dog when its door sensor opens.
func (r *Router) HandleStateChange(ctx context.Context, data *hass.EventData) {
	if id, ok := r.doors[data.EntityID]; ok {
		if d, ok := r.dogs[id]; ok && doorOpened(data) {
			r.doorOpened(ctx, d)
		}
		return
	}

	if domain, _ := hass.SplitEntityID(data.EntityID); domain != hass.EntityInputButton {
		return
	}

	for _, d := range r.dogs {
		name, ok := ButtonPressed(d, data)
		if !ok {
			continue
		}
		if _, err := r.handler.Press(ctx, d, name); err != nil {
			log.Warn().Err(err).Str("entity_id", data.EntityID).Msg("Button press ignored")
		}
		return
	}
}

func doorOpened(data *hass.EventData) bool {
	if data.NewState == nil || !hass.IsOn(data.NewState.State) {
		return false
	}
	return data.OldState == nil || !hass.IsOn(data.OldState.State)
}

func (r *Router) doorOpened(ctx context.Context, d dog.Dog) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, d, notify.Message{
		Title:   "Tür geöffnet",
		Message: fmt.Sprintf("Ist %s rausgegangen?", d.Name),
		Tag:     "door",
		Replies: []notify.Reply{{Action: notify.ReplyAction(ReplyOutsideYes, d.ID), Title: "Ja"}},
	})
}

// OnTransition sends the reminders and alerts for sensors turning on.
func (r *Router) OnTransition(ctx context.Context, d dog.Dog, sensor dog.Suffix, _, next status.Assessment) {
	if !next.On || r.notifier == nil || next.Failed() {
		return
	}

	switch sensor {
	case dog.OverdueFeeding:
		r.notifier.Notify(ctx, d, r.feedingReminder(d, stringList(next.Attributes["overdue_meals"])))
	case dog.EmergencyStatus:
		action, _ := next.Attributes["recommended_action"].(string)
		r.notifier.Notify(ctx, d, notify.Message{
			Title:     "Notfall: " + d.Name,
			Message:   strings.TrimSpace(fmt.Sprintf("%v. %s", next.Attributes["emergency_type"], action)),
			Tag:       "emergency",
			Emergency: true,
		})
	case dog.InactivityWarning:
		r.notifier.Notify(ctx, d, notify.Message{
			Title:   d.Name + " braucht Bewegung",
			Message: fmt.Sprintf("Überfällig: %s", strings.Join(stringList(next.Attributes["warnings"]), ", ")),
			Tag:     "inactivity",
			Replies: []notify.Reply{{Action: notify.ReplyAction(ReplyOutsideYes, d.ID), Title: "War draußen"}},
		})
	}
}

func (r *Router) feedingReminder(d dog.Dog, keys []string) notify.Message {
	m := notify.Message{
		Title: "Fütterung überfällig",
		Tag:   "overdue_feeding",
	}

	var labels []string
	for _, key := range keys {
		meal, ok := r.catalog.Meal(key)
		if !ok {
			continue
		}
		labels = append(labels, meal.Label)
		m.Replies = append(m.Replies, notify.Reply{
			Action: notify.ReplyAction(meal.ActionName(), d.ID),
			Title:  meal.Label + " gegeben",
		})
	}
	m.Message = fmt.Sprintf("%s wartet auf: %s", d.Name, strings.Join(labels, ", "))

	return m
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}
