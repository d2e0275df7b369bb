package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/config"
	"github.com/jkaflik/hundesystem/internal/hasstest"
	"github.com/jkaflik/hundesystem/internal/publish"
)

const testConfig = `
hass:
  url: http://homeassistant.local:8123
  token: test-token
dogs:
  - name: Bello
    push_devices: [notify.mobile_app_anna]
  - name: Luna
    create_dashboard: false
provisioning:
  batch_size: 16
  batch_pause: 0s
  recheck_delay: 0s
  verify_delay: 0s
  attempt_timeout: 1s
  max_attempts: 2
  base_delay: 1ms
  max_delay: 1ms
  jitter: 0s
status:
  coalesce_window: 10ms
notify:
  cooldown: 0s
api:
  listen: 127.0.0.1:0
schedule:
  timezone: UTC
`

func loadConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "hundesystem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--config", path}))

	cfg, err := config.Load(flags)
	require.NoError(t, err)
	cfg.Dashboard.OutputDir = filepath.Join(dir, "dashboards")
	return cfg
}

func newApp(t *testing.T, host *hasstest.Host) (*App, *config.Config) {
	t.Helper()

	cfg := loadConfig(t)
	a, err := New(cfg, Deps{
		Host: host,
		States: func(context.Context) ([]hass.State, error) {
			return host.States(), nil
		},
		Publisher: publish.NewRESTPublisher(host),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, cfg
}

func stateChanged(t *testing.T, entityID, from, to string) *hass.EventMessage {
	t.Helper()

	data, err := json.Marshal(hass.EventData{
		EntityID: entityID,
		OldState: &hass.State{EntityID: entityID, State: from},
		NewState: &hass.State{EntityID: entityID, State: to},
	})
	require.NoError(t, err)

	return &hass.EventMessage{Event: hass.Event{EventType: hass.EventTypeStateChanged, Data: data}}
}

func TestApp_ProvisionReportsEveryDog(t *testing.T) {
	host := hasstest.New()
	a, _ := newApp(t, host)

	require.NoError(t, a.Provision(context.Background()))

	reports := host.CallsTo(hass.DomainPersistentNotification, "create")
	require.Len(t, reports, 2)
	assert.Equal(t, "hundesystem_setup_bello", reports[0].Data["notification_id"])
	assert.Equal(t, "hundesystem_setup_luna", reports[1].Data["notification_id"])

	// Nobody is home, so only Bello's push device gets the report.
	assert.Len(t, host.CallsTo(hass.DomainNotify, "mobile_app_anna"), 1)
	assert.NotNil(t, host.State("input_boolean.luna_feeding_morning"))
}

func TestApp_ProvisionFailureIsReported(t *testing.T) {
	host := hasstest.New()
	host.RemoveDomain(hass.EntityCounter)
	a, _ := newApp(t, host)

	require.NoError(t, a.Provision(context.Background()))

	reports := host.CallsTo(hass.DomainPersistentNotification, "create")
	require.Len(t, reports, 2)
	assert.Contains(t, reports[0].Data["title"], "nicht eingerichtet")
}

func TestApp_Dashboards(t *testing.T) {
	host := hasstest.New()
	a, cfg := newApp(t, host)

	a.Dashboards(context.Background())

	_, ok := host.Dashboard("hundesystem-bello")
	assert.True(t, ok)
	_, ok = host.Dashboard("hundesystem-luna")
	assert.False(t, ok)

	assert.FileExists(t, filepath.Join(cfg.Dashboard.OutputDir, "bello.yaml"))
	assert.NoFileExists(t, filepath.Join(cfg.Dashboard.OutputDir, "luna.yaml"))
}

func TestApp_Serve(t *testing.T) {
	host := hasstest.New()
	a, _ := newApp(t, host)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Provision(ctx))
	require.NoError(t, a.LoadStates(ctx))

	events := make(chan *hass.EventMessage)
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, events) }()

	// Startup evaluation publishes every derived sensor.
	assert.Eventually(t, func() bool {
		return host.State("binary_sensor.bello_feeding_complete") != nil
	}, 2*time.Second, 10*time.Millisecond)

	events <- stateChanged(t, "input_button.bello_feed_morning", "2024-06-01T06:00:00+00:00", "2024-06-01T07:05:00+00:00")

	assert.Eventually(t, func() bool {
		st := host.State("input_boolean.bello_feeding_morning")
		return st != nil && st.State == hass.BooleanOnValue
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1", host.State("counter.bello_feeding_morning_count").State)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestApp_ProvisionWhileEventsStream(t *testing.T) {
	host := hasstest.New()
	a, _ := newApp(t, host)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan *hass.EventMessage)
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, events) }()

	toggles := []*hass.EventMessage{
		stateChanged(t, "input_boolean.bello_outside", hass.BooleanOffValue, hass.BooleanOnValue),
		stateChanged(t, "input_boolean.bello_outside", hass.BooleanOnValue, hass.BooleanOffValue),
	}

	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		for i := 0; i < 2000; i++ {
			select {
			case events <- toggles[i%2]:
			case <-ctx.Done():
				return
			}
		}
	}()

	require.NoError(t, a.Provision(ctx))
	assert.Len(t, host.CallsTo(hass.DomainPersistentNotification, "create"), 2)
	assert.NotNil(t, host.State("counter.bello_walk_count"))

	select {
	case <-streamed:
	case <-time.After(5 * time.Second):
		t.Fatal("events were not consumed while provisioning")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestApp_ServeFailsWhenEventsEnd(t *testing.T) {
	host := hasstest.New()
	a, _ := newApp(t, host)

	events := make(chan *hass.EventMessage)
	close(events)

	err := a.Serve(context.Background(), events)
	assert.ErrorContains(t, err, "event stream")
}
