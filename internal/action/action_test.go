package action

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/hasstest"
	"github.com/jkaflik/hundesystem/internal/notify"
	"github.com/jkaflik/hundesystem/internal/status"
)

var (
	bello = dog.Dog{ID: "bello", Name: "Bello"}
	now   = time.Date(2024, 6, 1, 8, 15, 0, 0, time.UTC)
)

type sentMessage struct {
	dog dog.ID
	msg notify.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Notify(_ context.Context, d dog.Dog, m notify.Message) notify.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{dog: d.ID, msg: m})
	return notify.Delivery{Recipients: []string{"mobile_app_test"}}
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Message, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.msg
	}
	return out
}

// provisioned returns a host holding every helper of the dog.
func provisioned(t *testing.T, cat *catalog.Catalog, d dog.Dog) *hasstest.Host {
	t.Helper()

	host := hasstest.New()
	domains := append(cat.Domains(), hass.EntityInputButton)
	for _, domain := range domains {
		for _, spec := range cat.Specs(domain) {
			require.NoError(t, host.CreateHelper(context.Background(), spec.Request(d)))
		}
	}
	return host
}

func setup(t *testing.T) (*hasstest.Host, *Handler, *recordingNotifier) {
	t.Helper()

	cat := catalog.New()
	host := provisioned(t, cat, bello)
	notifier := &recordingNotifier{}
	handler := NewHandler(host, notifier, All(cat), WithClock(func() time.Time { return now }, time.UTC))
	return host, handler, notifier
}

func value(host *hasstest.Host, entityID string) string {
	st := host.State(entityID)
	if st == nil {
		return ""
	}
	return st.State
}

func TestAll_MatchesCatalogButtons(t *testing.T) {
	cat := catalog.New()

	var buttons, actions []string
	for _, b := range cat.Buttons() {
		buttons = append(buttons, string(b.Suffix))
	}
	for _, a := range All(cat) {
		actions = append(actions, a.Name)
	}
	sort.Strings(buttons)
	sort.Strings(actions)

	assert.Equal(t, buttons, actions)
}

func TestAll_StepsTargetCatalogEntities(t *testing.T) {
	cat := catalog.New()
	for _, a := range All(cat) {
		for _, step := range a.Steps {
			_, ok := cat.Spec(step.Op.Domain(), step.Suffix)
			assert.True(t, ok, "%s: %s %s", a.Name, step.Op.Domain(), step.Suffix)
		}
	}
}

func TestHandler_Feed(t *testing.T) {
	tests := []struct {
		action string
		fed    string
		count  string
		last   string
	}{
		{action: "feed_morning", fed: "input_boolean.bello_feeding_morning", count: "counter.bello_feeding_morning_count", last: "input_datetime.bello_last_feeding_morning"},
		{action: "feed_evening", fed: "input_boolean.bello_feeding_evening", count: "counter.bello_feeding_evening_count", last: "input_datetime.bello_last_feeding_evening"},
		{action: "feed_snack", fed: "input_boolean.bello_feeding_snack", count: "counter.bello_feeding_snack_count", last: "input_datetime.bello_last_feeding_snack"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			host, handler, notifier := setup(t)

			result, err := handler.Press(context.Background(), bello, tt.action)
			require.NoError(t, err)
			assert.True(t, result.OK())
			assert.Equal(t, 5, result.Steps)

			assert.Equal(t, "on", value(host, tt.fed))
			assert.Equal(t, "1", value(host, tt.count))
			assert.Equal(t, "2024-06-01 08:15:00", value(host, tt.last))
			assert.Equal(t, "2024-06-01 08:15:00", value(host, "input_datetime.bello_last_activity"))
			assert.Empty(t, notifier.messages())
		})
	}
}

func TestHandler_OutsideAsksFollowUp(t *testing.T) {
	host, handler, notifier := setup(t)

	result, err := handler.Press(context.Background(), bello, "outside")
	require.NoError(t, err)
	assert.True(t, result.Notified)
	assert.Equal(t, "on", value(host, "input_boolean.bello_outside"))

	messages := notifier.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Hat Bello sein Geschäft gemacht?", messages[0].Message)
	assert.Equal(t, []notify.Reply{
		{Action: "POOP_YES:bello", Title: "Ja"},
		{Action: "POOP_NO:bello", Title: "Nein"},
	}, messages[0].Replies)
}

func TestHandler_StepFailureDoesNotStopAction(t *testing.T) {
	host, handler, notifier := setup(t)
	host.FailService(hass.EntityCounter, "increment", errors.New("boom"))

	result, err := handler.Press(context.Background(), bello, "outside")
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Errors[0], "counter.bello_outside_count")

	assert.Equal(t, "on", value(host, "input_boolean.bello_outside"))
	assert.Equal(t, "2024-06-01 08:15:00", value(host, "input_datetime.bello_last_outside"))
	assert.Empty(t, notifier.messages(), "no follow-up after a failed step")
}

func TestHandler_UnknownAction(t *testing.T) {
	_, handler, _ := setup(t)

	_, err := handler.Press(context.Background(), bello, "fly")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

type panickingHost struct{}

func (panickingHost) CallService(context.Context, string, string, map[string]any) error {
	panic("connection exploded")
}

func TestHandler_RecoversPanics(t *testing.T) {
	handler := NewHandler(panickingHost{}, nil, All(catalog.New()))

	result, err := handler.Press(context.Background(), bello, "play")
	require.NoError(t, err)
	assert.False(t, result.OK())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connection exploded")
}

func TestHandler_Emergency(t *testing.T) {
	host, handler, notifier := setup(t)

	_, err := handler.Press(context.Background(), bello, "emergency")
	require.NoError(t, err)

	assert.Equal(t, "on", value(host, "input_boolean.bello_emergency_mode"))
	assert.Equal(t, catalog.LevelCritical, value(host, "input_select.bello_emergency_level"))

	messages := notifier.messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Emergency)
}

func TestHandler_DailyReset(t *testing.T) {
	host, handler, _ := setup(t)
	ctx := context.Background()

	for _, name := range []string{"feed_morning", "feed_lunch", "outside", "poop", "medication"} {
		_, err := handler.Press(ctx, bello, name)
		require.NoError(t, err)
	}
	require.Equal(t, "on", value(host, "input_boolean.bello_feeding_morning"))

	result, err := handler.Press(ctx, bello, "daily_reset")
	require.NoError(t, err)
	assert.True(t, result.OK(), result.Errors)

	for _, id := range []string{
		"input_boolean.bello_feeding_morning",
		"input_boolean.bello_feeding_lunch",
		"input_boolean.bello_outside",
		"input_boolean.bello_poop_done",
		"input_boolean.bello_medication_given",
	} {
		assert.Equal(t, "off", value(host, id), id)
	}
	assert.Equal(t, "0", value(host, "counter.bello_feeding_morning_count"))
	assert.Equal(t, "0", value(host, "counter.bello_outside_count"))
	assert.Equal(t, "1", value(host, "counter.bello_medication_count"), "lifetime counters survive")
}

func TestRouter_HandleNotificationAction(t *testing.T) {
	tests := []struct {
		name    string
		data    hass.NotificationActionData
		entity  string
		want    string
		wantErr error
	}{
		{
			name:   "poop yes",
			data:   hass.NotificationActionData{Action: "POOP_YES:bello"},
			entity: "input_boolean.bello_poop_done",
			want:   "on",
		},
		{
			name:   "feed reply",
			data:   hass.NotificationActionData{Action: "FEED_EVENING:bello"},
			entity: "input_boolean.bello_feeding_evening",
			want:   "on",
		},
		{
			name:   "dog from payload",
			data:   hass.NotificationActionData{Action: "OUTSIDE_YES", Dog: "Bello"},
			entity: "input_boolean.bello_outside",
			want:   "on",
		},
		{
			name:   "poop no changes nothing",
			data:   hass.NotificationActionData{Action: "POOP_NO:bello"},
			entity: "input_boolean.bello_poop_done",
			want:   "off",
		},
		{
			name:    "unknown dog",
			data:    hass.NotificationActionData{Action: "POOP_YES:rex"},
			wantErr: ErrUnknownDog,
		},
		{
			name:    "unknown action",
			data:    hass.NotificationActionData{Action: "DANCE:bello"},
			wantErr: ErrUnknownAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, handler, notifier := setup(t)
			router := NewRouter(handler, notifier, catalog.New(), []dog.Dog{bello}, nil)

			_, err := router.HandleNotificationAction(context.Background(), &tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, value(host, tt.entity))
		})
	}
}

func TestRouter_ButtonPress(t *testing.T) {
	host, handler, notifier := setup(t)
	router := NewRouter(handler, notifier, catalog.New(), []dog.Dog{bello}, nil)
	ctx := context.Background()

	// A freshly created button has no previous state.
	router.HandleStateChange(ctx, &hass.EventData{
		EntityID: "input_button.bello_play",
		NewState: &hass.State{State: "unknown"},
	})
	assert.Equal(t, "0", value(host, "counter.bello_play_count"))

	router.HandleStateChange(ctx, &hass.EventData{
		EntityID: "input_button.bello_play",
		OldState: &hass.State{State: "unknown"},
		NewState: &hass.State{State: "2024-06-01T08:15:00+00:00"},
	})
	assert.Equal(t, "1", value(host, "counter.bello_play_count"))

	router.HandleStateChange(ctx, &hass.EventData{
		EntityID: "input_button.luna_play",
		OldState: &hass.State{State: "unknown"},
		NewState: &hass.State{State: "2024-06-01T08:15:00+00:00"},
	})
	assert.Equal(t, "1", value(host, "counter.bello_play_count"))
}

func TestRouter_DoorSensor(t *testing.T) {
	_, handler, notifier := setup(t)
	router := NewRouter(handler, notifier, catalog.New(), []dog.Dog{bello}, map[string]dog.ID{
		"binary_sensor.back_door": bello.ID,
	})
	ctx := context.Background()

	router.HandleStateChange(ctx, &hass.EventData{
		EntityID: "binary_sensor.back_door",
		OldState: &hass.State{State: "off"},
		NewState: &hass.State{State: "on"},
	})
	router.HandleStateChange(ctx, &hass.EventData{
		EntityID: "binary_sensor.back_door",
		OldState: &hass.State{State: "on"},
		NewState: &hass.State{State: "off"},
	})

	messages := notifier.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Ist Bello rausgegangen?", messages[0].Message)
	assert.Equal(t, []notify.Reply{{Action: "OUTSIDE_YES:bello", Title: "Ja"}}, messages[0].Replies)
}

func TestRouter_OverdueFeedingReminder(t *testing.T) {
	_, handler, notifier := setup(t)
	router := NewRouter(handler, notifier, catalog.New(), []dog.Dog{bello}, nil)

	router.OnTransition(context.Background(), bello, dog.OverdueFeeding,
		status.Assessment{},
		status.Assessment{On: true, Attributes: map[string]any{"overdue_meals": []any{"morning", "lunch"}}},
	)
	router.OnTransition(context.Background(), bello, dog.OverdueFeeding,
		status.Assessment{On: true},
		status.Assessment{On: false},
	)

	messages := notifier.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Bello wartet auf: Frühstück, Mittagessen", messages[0].Message)
	assert.Equal(t, []notify.Reply{
		{Action: "FEED_MORNING:bello", Title: "Frühstück gegeben"},
		{Action: "FEED_LUNCH:bello", Title: "Mittagessen gegeben"},
	}, messages[0].Replies)
}
