// Package config loads the service configuration from a YAML file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "HUNDESYSTEM"

type Config struct {
	Hass         HassConfig         `mapstructure:"hass"`
	Log          LogConfig          `mapstructure:"log"`
	Dogs         []DogConfig        `mapstructure:"dogs"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Status       StatusConfig       `mapstructure:"status"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Publisher    PublisherConfig    `mapstructure:"publisher"`
	API          APIConfig          `mapstructure:"api"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Journal      JournalConfig      `mapstructure:"journal"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
}

type HassConfig struct {
	URL             string        `mapstructure:"url"`
	Token           string        `mapstructure:"token"`
	Discover        bool          `mapstructure:"discover"`
	DiscoverTimeout time.Duration `mapstructure:"discover_timeout"`
	ResultTimeout   time.Duration `mapstructure:"result_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DogConfig struct {
	Name        string   `mapstructure:"name"`
	DoorSensor  string   `mapstructure:"door_sensor"`
	PushDevices []string `mapstructure:"push_devices"`
	// Unset means true for both.
	PersonTracking  *bool `mapstructure:"person_tracking"`
	CreateDashboard *bool `mapstructure:"create_dashboard"`
}

func (d DogConfig) TracksPersons() bool {
	return d.PersonTracking == nil || *d.PersonTracking
}

func (d DogConfig) WantsDashboard() bool {
	return d.CreateDashboard == nil || *d.CreateDashboard
}

type ProvisioningConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	BatchPause     time.Duration `mapstructure:"batch_pause"`
	RecheckDelay   time.Duration `mapstructure:"recheck_delay"`
	VerifyDelay    time.Duration `mapstructure:"verify_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         time.Duration `mapstructure:"jitter"`
	DomainRetries  int           `mapstructure:"domain_retries"`
	Buttons        bool          `mapstructure:"buttons"`
}

type InactivityConfig struct {
	Outside  time.Duration `mapstructure:"outside"`
	Walk     time.Duration `mapstructure:"walk"`
	Play     time.Duration `mapstructure:"play"`
	Activity time.Duration `mapstructure:"activity"`
}

type StatusConfig struct {
	FeedingGrace   time.Duration    `mapstructure:"feeding_grace"`
	CoalesceWindow time.Duration    `mapstructure:"coalesce_window"`
	StaleAfter     time.Duration    `mapstructure:"stale_after"`
	TasksDue       string           `mapstructure:"tasks_due"`
	Inactivity     InactivityConfig `mapstructure:"inactivity"`
}

type NotifyConfig struct {
	Cooldown   time.Duration `mapstructure:"cooldown"`
	PushReport bool          `mapstructure:"push_report"`
}

const (
	PublisherREST = "rest"
	PublisherMQTT = "mqtt"
)

type PublisherConfig struct {
	Kind string     `mapstructure:"kind"`
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker"`
	ClientID        string `mapstructure:"client_id"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	QoS             int    `mapstructure:"qos"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

type ScheduleConfig struct {
	Timezone   string `mapstructure:"timezone"`
	DailyReset string `mapstructure:"daily_reset"`
}

type JournalConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Database      string        `mapstructure:"database"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type DashboardConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// RegisterFlags adds the command line flags that override configuration keys.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "path to the configuration file")
	flags.String("hass-url", "", "Home Assistant URL, discovered via mDNS when empty")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	flags.String("api-listen", "", "address of the HTTP API")
}

var flagKeys = map[string]string{
	"hass-url":   "hass.url",
	"log-level":  "log.level",
	"log-format": "log.format",
	"api-listen": "api.listen",
}

// Load reads the configuration. Flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	path := ""
	if flags != nil {
		path, _ = flags.GetString("config")
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hundesystem")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("hass.url", EnvPrefix+"_HASS_URL", "HASS_URL")
	_ = v.BindEnv("hass.token", EnvPrefix+"_HASS_TOKEN", "HASS_TOKEN")
	_ = v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hass.discover", true)
	v.SetDefault("hass.discover_timeout", 5*time.Second)
	v.SetDefault("hass.result_timeout", 30*time.Second)
	v.SetDefault("hass.request_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("provisioning.batch_size", 3)
	v.SetDefault("provisioning.batch_pause", time.Second)
	v.SetDefault("provisioning.recheck_delay", 500*time.Millisecond)
	v.SetDefault("provisioning.verify_delay", time.Second)
	v.SetDefault("provisioning.attempt_timeout", 30*time.Second)
	v.SetDefault("provisioning.max_attempts", 5)
	v.SetDefault("provisioning.base_delay", 2*time.Second)
	v.SetDefault("provisioning.max_delay", 30*time.Second)
	v.SetDefault("provisioning.jitter", time.Second)
	v.SetDefault("provisioning.domain_retries", 2)
	v.SetDefault("provisioning.buttons", true)

	v.SetDefault("status.feeding_grace", time.Hour)
	v.SetDefault("status.coalesce_window", 2*time.Second)
	v.SetDefault("status.stale_after", 2*time.Hour)
	v.SetDefault("status.tasks_due", "20:00")
	v.SetDefault("status.inactivity.outside", 6*time.Hour)
	v.SetDefault("status.inactivity.walk", 24*time.Hour)
	v.SetDefault("status.inactivity.play", 48*time.Hour)
	v.SetDefault("status.inactivity.activity", 8*time.Hour)

	v.SetDefault("notify.cooldown", 15*time.Minute)
	v.SetDefault("notify.push_report", true)

	v.SetDefault("publisher.kind", PublisherREST)
	v.SetDefault("publisher.mqtt.client_id", "hundesystem")
	v.SetDefault("publisher.mqtt.qos", 1)
	v.SetDefault("publisher.mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("publisher.mqtt.topic_prefix", "hundesystem")

	v.SetDefault("api.listen", ":8080")

	v.SetDefault("schedule.timezone", "Local")
	v.SetDefault("schedule.daily_reset", "0 0 * * *")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.url", "http://localhost:8123")
	v.SetDefault("journal.username", "default")
	v.SetDefault("journal.database", "hundesystem")
	v.SetDefault("journal.batch_size", 500)
	v.SetDefault("journal.flush_interval", 10*time.Second)

	v.SetDefault("dashboard.output_dir", "dashboards")
}
