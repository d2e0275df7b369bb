package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/hundesystem/internal/dog"
)

const sample = `
hass:
  url: http://homeassistant.local:8123
  token: file-token
log:
  format: json
dogs:
  - name: Lucky Luke
    door_sensor: binary_sensor.back_door
    push_devices: [notify.mobile_app_anna]
  - name: Bella
    person_tracking: false
    create_dashboard: false
provisioning:
  batch_size: 5
status:
  feeding_grace: 45m
  inactivity:
    walk: 12h
publisher:
  kind: mqtt
  mqtt:
    broker: tcp://mosquitto:1883
schedule:
  timezone: Europe/Berlin
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hundesystem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func flagsFor(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sample)

	cfg, err := Load(flagsFor(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "http://homeassistant.local:8123", cfg.Hass.URL)
	assert.Equal(t, "file-token", cfg.Hass.Token)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Provisioning.BatchSize)
	assert.Equal(t, 45*time.Minute, cfg.Status.FeedingGrace)
	assert.Equal(t, 12*time.Hour, cfg.Status.Inactivity.Walk)
	assert.Equal(t, 6*time.Hour, cfg.Status.Inactivity.Outside)
	assert.Equal(t, ":8080", cfg.API.Listen)

	require.Len(t, cfg.Dogs, 2)
	assert.True(t, cfg.Dogs[0].TracksPersons())
	assert.True(t, cfg.Dogs[0].WantsDashboard())
	assert.False(t, cfg.Dogs[1].TracksPersons())
	assert.False(t, cfg.Dogs[1].WantsDashboard())

	dogs, err := cfg.DogList()
	require.NoError(t, err)
	assert.Equal(t, []dog.Dog{{ID: "lucky_luke", Name: "Lucky Luke"}, {ID: "bella", Name: "Bella"}}, dogs)
	assert.Equal(t, map[string]dog.ID{"binary_sensor.back_door": "lucky_luke"}, cfg.DoorSensors())

	targets := cfg.NotifyOptions().Targets
	assert.Equal(t, []string{"notify.mobile_app_anna"}, targets["lucky_luke"].PushDevices)
	assert.False(t, targets["bella"].PersonTracking)

	mqtt := cfg.MQTTOptions()
	assert.Equal(t, "tcp://mosquitto:1883", mqtt.Broker)
	assert.Equal(t, byte(1), mqtt.QoS)
	assert.Equal(t, "homeassistant", mqtt.DiscoveryPrefix)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	opts := cfg.ProvisionOptions()
	assert.Equal(t, 5, opts.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, opts.Retry.InitialInterval)
	assert.True(t, opts.Buttons)
}

func TestLoad_EnvAndFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, sample)
	t.Setenv("HASS_TOKEN", "env-token")
	t.Setenv("HUNDESYSTEM_NOTIFY_COOLDOWN", "5m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(flagsFor(t, "--config", path, "--hass-url", "http://10.0.0.2:8123"))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Hass.Token)
	assert.Equal(t, "http://10.0.0.2:8123", cfg.Hass.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Notify.Cooldown)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(flagsFor(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(flagsFor(t, "--config", writeConfig(t, sample)))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "token",
			mutate: func(c *Config) { c.Hass.Token = "" },
			want:   "hass.token is required",
		},
		{
			name:   "no dogs",
			mutate: func(c *Config) { c.Dogs = nil },
			want:   "at least one dog",
		},
		{
			name:   "invalid dog name",
			mutate: func(c *Config) { c.Dogs[1].Name = "1 Rex" },
			want:   "dogs[1]",
		},
		{
			name:   "duplicate dog",
			mutate: func(c *Config) { c.Dogs[1].Name = "lucky luke" },
			want:   "share the id lucky_luke",
		},
		{
			name:   "negative duration",
			mutate: func(c *Config) { c.Status.StaleAfter = -time.Minute },
			want:   "status.stale_after must be positive",
		},
		{
			name:   "publisher kind",
			mutate: func(c *Config) { c.Publisher.Kind = "carrier_pigeon" },
			want:   "unknown publisher kind",
		},
		{
			name:   "cron spec",
			mutate: func(c *Config) { c.Schedule.DailyReset = "midnight" },
			want:   "schedule.daily_reset",
		},
		{
			name:   "timezone",
			mutate: func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
			want:   "schedule.timezone",
		},
		{
			name:   "provisioning batch size",
			mutate: func(c *Config) { c.Provisioning.BatchSize = 0 },
			want:   "batch size must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
