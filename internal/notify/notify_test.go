package notify

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/hasstest"
	"github.com/jkaflik/hundesystem/internal/state"
)

var bello = dog.Dog{ID: "bello", Name: "Bello"}

func persons(states map[string]string) []hass.State {
	var out []hass.State
	for id, value := range states {
		out = append(out, hass.State{EntityID: id, State: value})
	}
	return out
}

func notifyServices(host *hasstest.Host) []string {
	var out []string
	for _, c := range host.Calls() {
		if c.Domain == hass.DomainNotify {
			out = append(out, c.Service)
		}
	}
	sort.Strings(out)
	return out
}

func TestDispatcher_Recipients(t *testing.T) {
	tests := []struct {
		name    string
		persons map[string]string
		target  Target
		want    []string
	}{
		{
			name:    "one person home",
			persons: map[string]string{"person.anna": "home", "person.ben": "not_home"},
			target:  Target{PersonTracking: true, PushDevices: []string{"mobile_app_tablet"}},
			want:    []string{"mobile_app_anna"},
		},
		{
			name:    "nobody home falls back to devices",
			persons: map[string]string{"person.anna": "not_home", "person.ben": "work"},
			target:  Target{PersonTracking: true, PushDevices: []string{"mobile_app_tablet", "notify.mobile_app_phone"}},
			want:    []string{"mobile_app_tablet", "mobile_app_phone"},
		},
		{
			name:    "tracking off uses devices",
			persons: map[string]string{"person.anna": "home"},
			target:  Target{PushDevices: []string{"mobile_app_tablet"}},
			want:    []string{"mobile_app_tablet"},
		},
		{
			name:    "nobody to notify",
			persons: map[string]string{"person.anna": "not_home"},
			target:  Target{PersonTracking: true},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := state.NewStore()
			store.Replace(persons(tt.persons))

			d := NewDispatcher(hasstest.New(), store, Options{Targets: map[dog.ID]Target{bello.ID: tt.target}})
			defer d.Close()

			assert.Equal(t, tt.want, d.Recipients(bello.ID))
		})
	}
}

func TestDispatcher_NotifySendsOnlyToPersonHome(t *testing.T) {
	host := hasstest.New()
	store := state.NewStore()
	store.Replace(persons(map[string]string{"person.anna": "home", "person.ben": "not_home"}))

	d := NewDispatcher(host, store, Options{Targets: map[dog.ID]Target{
		bello.ID: {PersonTracking: true, PushDevices: []string{"mobile_app_tablet"}},
	}})
	defer d.Close()

	delivery := d.Notify(context.Background(), bello, Message{
		Title:   "Bello",
		Message: "War Bello draußen?",
		Replies: []Reply{{Action: ReplyAction("outside_yes", bello.ID), Title: "Ja"}},
	})

	assert.Equal(t, []string{"mobile_app_anna"}, delivery.Recipients)
	assert.Empty(t, delivery.Failed)
	assert.Equal(t, []string{"mobile_app_anna"}, notifyServices(host))

	call := host.CallsTo(hass.DomainNotify, "mobile_app_anna")[0]
	data := call.Data["data"].(map[string]any)
	assert.Equal(t, "bello", data["dog"])
	assert.Equal(t, []map[string]any{{"action": "OUTSIDE_YES:bello", "title": "Ja"}}, data["actions"])
}

func TestDispatcher_NotifyFallbackReachesEveryDevice(t *testing.T) {
	host := hasstest.New()
	store := state.NewStore()
	store.Replace(persons(map[string]string{"person.anna": "not_home"}))

	d := NewDispatcher(host, store, Options{Targets: map[dog.ID]Target{
		bello.ID: {PersonTracking: true, PushDevices: []string{"mobile_app_tablet", "mobile_app_phone", "mobile_app_watch"}},
	}})
	defer d.Close()

	host.FailService(hass.DomainNotify, "mobile_app_phone", errors.New("device offline"))

	delivery := d.Notify(context.Background(), bello, Message{Title: "Bello", Message: "Hallo"})

	assert.Equal(t, []string{"mobile_app_phone", "mobile_app_tablet", "mobile_app_watch"}, notifyServices(host))
	assert.Equal(t, []string{"mobile_app_phone"}, delivery.Failed)
	assert.Len(t, delivery.Recipients, 3)
}

func TestDispatcher_Cooldown(t *testing.T) {
	host := hasstest.New()
	d := NewDispatcher(host, state.NewStore(), Options{
		Cooldown: time.Hour,
		Targets:  map[dog.ID]Target{bello.ID: {PushDevices: []string{"mobile_app_tablet"}}},
	})
	defer d.Close()

	ctx := context.Background()
	m := Message{Title: "Bello", Message: "Frühstück überfällig", Tag: "overdue_feeding"}

	assert.Empty(t, d.Notify(ctx, bello, m).Suppressed)
	assert.Equal(t, "cooldown", d.Notify(ctx, bello, m).Suppressed)

	other := dog.Dog{ID: "luna", Name: "Luna"}
	assert.Equal(t, "no_recipients", d.Notify(ctx, other, m).Suppressed)

	untagged := Message{Title: "Bello", Message: "Hallo"}
	assert.Empty(t, d.Notify(ctx, bello, untagged).Suppressed)
	assert.Empty(t, d.Notify(ctx, bello, untagged).Suppressed)

	assert.Len(t, host.CallsTo(hass.DomainNotify, "mobile_app_tablet"), 3)
}

func TestDispatcher_CooldownStartsWithDelivery(t *testing.T) {
	host := hasstest.New()
	host.FailService(hass.DomainNotify, "mobile_app_tablet", assert.AnError)

	d := NewDispatcher(host, state.NewStore(), Options{
		Cooldown: time.Hour,
		Targets:  map[dog.ID]Target{bello.ID: {PushDevices: []string{"mobile_app_tablet"}}},
	})
	defer d.Close()

	ctx := context.Background()
	m := Message{Title: "Bello", Message: "Frühstück überfällig", Tag: "overdue_feeding"}

	failed := d.Notify(ctx, bello, m)
	assert.Empty(t, failed.Suppressed)
	assert.Equal(t, []string{"mobile_app_tablet"}, failed.Failed)

	host.FailService(hass.DomainNotify, "mobile_app_tablet", nil)

	delivered := d.Notify(ctx, bello, m)
	assert.Empty(t, delivered.Suppressed)
	assert.Empty(t, delivered.Failed)

	assert.Equal(t, "cooldown", d.Notify(ctx, bello, m).Suppressed)
	assert.Len(t, host.CallsTo(hass.DomainNotify, "mobile_app_tablet"), 2)
}

func TestDispatcher_EmergencyIgnoresCooldown(t *testing.T) {
	host := hasstest.New()
	d := NewDispatcher(host, state.NewStore(), Options{
		Cooldown: time.Hour,
		Targets:  map[dog.ID]Target{bello.ID: {PushDevices: []string{"mobile_app_tablet"}}},
	})
	defer d.Close()

	ctx := context.Background()
	m := Message{Title: "Notfall", Message: "Bello braucht Hilfe", Tag: "emergency", Emergency: true}

	assert.Empty(t, d.Notify(ctx, bello, m).Suppressed)
	assert.Empty(t, d.Notify(ctx, bello, m).Suppressed)
	assert.Len(t, host.CallsTo(hass.DomainNotify, "mobile_app_tablet"), 2)
}

func TestDispatcher_VisitorModeSuppressesNonEmergency(t *testing.T) {
	host := hasstest.New()
	store := state.NewStore()
	store.Replace([]hass.State{{EntityID: "input_boolean.bello_visitor_mode", State: "on"}})

	d := NewDispatcher(host, store, Options{Targets: map[dog.ID]Target{
		bello.ID: {PushDevices: []string{"mobile_app_tablet"}},
	}})
	defer d.Close()

	ctx := context.Background()
	assert.Equal(t, "visitor_mode", d.Notify(ctx, bello, Message{Title: "Bello", Message: "Gassi?"}).Suppressed)

	delivery := d.Notify(ctx, bello, Message{Title: "Notfall", Message: "Bello braucht Hilfe", Emergency: true})
	require.Empty(t, delivery.Suppressed)

	calls := host.CallsTo(hass.DomainNotify, "mobile_app_tablet")
	require.Len(t, calls, 1)
	data := calls[0].Data["data"].(map[string]any)
	assert.Equal(t, "high", data["priority"])
}

func TestDispatcher_Persist(t *testing.T) {
	host := hasstest.New()
	d := NewDispatcher(host, state.NewStore(), Options{})
	defer d.Close()

	require.NoError(t, d.Persist(context.Background(), "hundesystem_setup_bello", "Setup", "Fertig"))

	calls := host.CallsTo(hass.DomainPersistentNotification, "create")
	require.Len(t, calls, 1)
	assert.Equal(t, "hundesystem_setup_bello", calls[0].Data["notification_id"])
}

func TestParseReplyAction(t *testing.T) {
	tests := []struct {
		in     string
		action string
		id     dog.ID
		ok     bool
	}{
		{in: "POOP_YES:bello", action: "POOP_YES", id: "bello", ok: true},
		{in: " feed_morning:Lucky_Luke ", action: "FEED_MORNING", id: "lucky_luke", ok: true},
		{in: "POOP_YES", action: "POOP_YES", ok: false},
		{in: "POOP_YES:", action: "POOP_YES", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			action, id, ok := ParseReplyAction(tt.in)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.ok, ok)
		})
	}

	action, id, ok := ParseReplyAction(ReplyAction("outside_yes", bello.ID))
	assert.True(t, ok)
	assert.Equal(t, "OUTSIDE_YES", action)
	assert.Equal(t, bello.ID, id)
}
