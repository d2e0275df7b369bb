package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/notify"
	"github.com/jkaflik/hundesystem/internal/provision"
	"github.com/jkaflik/hundesystem/internal/publish"
	"github.com/jkaflik/hundesystem/internal/status"
	"github.com/jkaflik/hundesystem/pkg/retry"
)

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Hass.Token == "" {
		errs = append(errs, errors.New("hass.token is required"))
	}
	if c.Hass.URL == "" && !c.Hass.Discover {
		errs = append(errs, errors.New("hass.url is required when discovery is off"))
	}

	if len(c.Dogs) == 0 {
		errs = append(errs, errors.New("at least one dog must be configured"))
	}
	if _, err := c.DogList(); err != nil {
		errs = append(errs, err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	durations := map[string]time.Duration{
		"hass.result_timeout":          c.Hass.ResultTimeout,
		"hass.request_timeout":         c.Hass.RequestTimeout,
		"status.feeding_grace":         c.Status.FeedingGrace,
		"status.coalesce_window":       c.Status.CoalesceWindow,
		"status.stale_after":           c.Status.StaleAfter,
		"status.inactivity.outside":    c.Status.Inactivity.Outside,
		"status.inactivity.walk":       c.Status.Inactivity.Walk,
		"status.inactivity.play":       c.Status.Inactivity.Play,
		"status.inactivity.activity":   c.Status.Inactivity.Activity,
		"provisioning.attempt_timeout": c.Provisioning.AttemptTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	if err := c.ProvisionOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("provisioning: %w", err))
	}
	if _, err := catalog.ParseClock(c.Status.TasksDue); err != nil {
		errs = append(errs, fmt.Errorf("status.tasks_due: %w", err))
	}

	switch c.Publisher.Kind {
	case PublisherREST:
	case PublisherMQTT:
		if c.Publisher.MQTT.Broker == "" {
			errs = append(errs, errors.New("publisher.mqtt.broker is required for the mqtt publisher"))
		}
		if c.Publisher.MQTT.QoS < 0 || c.Publisher.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("publisher.mqtt.qos must be 0, 1 or 2, got %d", c.Publisher.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown publisher kind %q", c.Publisher.Kind))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.Schedule.DailyReset); err != nil {
		errs = append(errs, fmt.Errorf("schedule.daily_reset: %w", err))
	}

	if c.Journal.Enabled {
		if c.Journal.URL == "" {
			errs = append(errs, errors.New("journal.url is required when the journal is enabled"))
		}
		if c.Journal.FlushInterval <= 0 {
			errs = append(errs, fmt.Errorf("journal.flush_interval must be positive, got %s", c.Journal.FlushInterval))
		}
	}

	return errors.Join(errs...)
}

// DogList normalizes the configured dogs. IDs must be unique.
func (c *Config) DogList() ([]dog.Dog, error) {
	var errs []error
	seen := make(map[dog.ID]string, len(c.Dogs))
	dogs := make([]dog.Dog, 0, len(c.Dogs))

	for i, dc := range c.Dogs {
		d, err := dog.New(dc.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("dogs[%d]: %w", i, err))
			continue
		}
		if other, ok := seen[d.ID]; ok {
			errs = append(errs, fmt.Errorf("dogs[%d]: %q and %q share the id %s", i, other, dc.Name, d.ID))
			continue
		}
		seen[d.ID] = dc.Name
		dogs = append(dogs, d)
	}

	return dogs, errors.Join(errs...)
}

// DoorSensors maps each configured door sensor to its dog.
func (c *Config) DoorSensors() map[string]dog.ID {
	doors := make(map[string]dog.ID)
	for _, dc := range c.Dogs {
		if dc.DoorSensor == "" {
			continue
		}
		if id, err := dog.Normalize(dc.Name); err == nil {
			doors[dc.DoorSensor] = id
		}
	}
	return doors
}

// DogConfig returns the configuration entry of a dog.
func (c *Config) DogConfig(id dog.ID) (DogConfig, bool) {
	for _, dc := range c.Dogs {
		if other, err := dog.Normalize(dc.Name); err == nil && other == id {
			return dc, true
		}
	}
	return DogConfig{}, false
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) ProvisionOptions() provision.Options {
	p := c.Provisioning
	return provision.Options{
		BatchSize:      p.BatchSize,
		BatchPause:     p.BatchPause,
		RecheckDelay:   p.RecheckDelay,
		VerifyDelay:    p.VerifyDelay,
		AttemptTimeout: p.AttemptTimeout,
		Retry: retry.Config{
			MaxAttempts:     p.MaxAttempts,
			InitialInterval: p.BaseDelay,
			MaxInterval:     p.MaxDelay,
			Multiplier:      2,
			Jitter:          retry.UpTo(p.Jitter),
		},
		DomainRetries: p.DomainRetries,
		Buttons:       p.Buttons,
	}
}

func (c *Config) StatusSettings() status.Settings {
	s := status.DefaultSettings()
	s.FeedingGrace = c.Status.FeedingGrace
	s.StaleAfter = c.Status.StaleAfter
	s.Inactivity = status.Thresholds{
		Outside:  c.Status.Inactivity.Outside,
		Walk:     c.Status.Inactivity.Walk,
		Play:     c.Status.Inactivity.Play,
		Activity: c.Status.Inactivity.Activity,
	}
	if due, err := catalog.ParseClock(c.Status.TasksDue); err == nil {
		s.TasksDue = due
	}
	return s
}

func (c *Config) NotifyOptions() notify.Options {
	targets := make(map[dog.ID]notify.Target, len(c.Dogs))
	for _, dc := range c.Dogs {
		id, err := dog.Normalize(dc.Name)
		if err != nil {
			continue
		}
		targets[id] = notify.Target{
			PersonTracking: dc.TracksPersons(),
			PushDevices:    dc.PushDevices,
		}
	}
	return notify.Options{Cooldown: c.Notify.Cooldown, Targets: targets}
}

func (c *Config) MQTTOptions() publish.MQTTOptions {
	m := c.Publisher.MQTT
	return publish.MQTTOptions{
		Broker:          m.Broker,
		ClientID:        m.ClientID,
		Username:        m.Username,
		Password:        m.Password,
		QoS:             byte(m.QoS),
		DiscoveryPrefix: strings.TrimSuffix(m.DiscoveryPrefix, "/"),
		TopicPrefix:     strings.TrimSuffix(m.TopicPrefix, "/"),
	}
}
