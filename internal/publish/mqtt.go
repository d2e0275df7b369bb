package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/status"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	payloadOn      = "ON"
	payloadOff     = "OFF"
	payloadOnline  = "online"
	payloadOffline = "offline"
)

var ErrConnectionFailed = errors.New("mqtt connection failed")

// MQTTClient is the subset of the paho client used for publishing.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// DiscoveryPrefix is the Home Assistant MQTT discovery prefix.
	DiscoveryPrefix string
	// TopicPrefix is the root of the state, attribute and availability topics.
	TopicPrefix    string
	PublishTimeout time.Duration
}

func (o *MQTTOptions) defaults() {
	if o.DiscoveryPrefix == "" {
		o.DiscoveryPrefix = "homeassistant"
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "hundesystem"
	}
	if o.ClientID == "" {
		o.ClientID = "hundesystem"
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = defaultPublishTimeout
	}
}

// AvailabilityTopic is where the service announces itself online or offline.
func (o MQTTOptions) AvailabilityTopic() string {
	return o.TopicPrefix + "/status"
}

// MQTTPublisher publishes sensors through MQTT discovery. The discovery
// config is sent once per entity, state and attributes are retained.
type MQTTPublisher struct {
	client MQTTClient
	opts   MQTTOptions

	mu         sync.Mutex
	discovered map[string]bool
}

func NewMQTTPublisher(client MQTTClient, opts MQTTOptions) *MQTTPublisher {
	opts.defaults()
	return &MQTTPublisher{
		client:     client,
		opts:       opts,
		discovered: make(map[string]bool),
	}
}

// ConnectMQTT connects to the broker and returns a publisher using it. The
// broker announces the service offline through the last will.
func ConnectMQTT(opts MQTTOptions) (*MQTTPublisher, func(), error) {
	opts.defaults()

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectTimeout(defaultConnectTimeout)
	clientOpts.SetKeepAlive(defaultKeepAlive)
	clientOpts.SetWill(opts.AvailabilityTopic(), payloadOffline, opts.QoS, true)
	clientOpts.SetOnConnectHandler(func(c pahomqtt.Client) {
		log.Info().Str("broker", opts.Broker).Msg("Connected to MQTT broker")
		c.Publish(opts.AvailabilityTopic(), opts.QoS, true, payloadOnline)
	})
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := pahomqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	closeFn := func() {
		client.Publish(opts.AvailabilityTopic(), opts.QoS, true, payloadOffline).WaitTimeout(opts.PublishTimeout)
		client.Disconnect(1000)
	}

	return NewMQTTPublisher(client, opts), closeFn, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, s status.Sensor, a status.Assessment) error {
	_, objectID := hass.SplitEntityID(s.EntityID)
	base := p.opts.TopicPrefix + "/" + objectID

	p.mu.Lock()
	discovered := p.discovered[objectID]
	p.mu.Unlock()

	if !discovered {
		config, err := json.Marshal(p.discoveryConfig(s, objectID, base))
		if err != nil {
			return fmt.Errorf("failed to marshal discovery config: %w", err)
		}
		if err := p.publish(ctx, p.ConfigTopic(objectID), config); err != nil {
			return err
		}
		p.mu.Lock()
		p.discovered[objectID] = true
		p.mu.Unlock()
	}

	attrs, err := json.Marshal(a.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes of %s: %w", s.EntityID, err)
	}
	if err := p.publish(ctx, base+"/attributes", attrs); err != nil {
		return err
	}

	state := payloadOff
	if a.On {
		state = payloadOn
	}
	return p.publish(ctx, base+"/state", []byte(state))
}

// ConfigTopic returns the discovery topic of a binary sensor.
func (p *MQTTPublisher) ConfigTopic(objectID string) string {
	return p.opts.DiscoveryPrefix + "/" + hass.EntityBinarySensor + "/" + objectID + "/config"
}

func (p *MQTTPublisher) discoveryConfig(s status.Sensor, objectID, base string) map[string]any {
	config := map[string]any{
		"name":                  s.Spec.Label,
		"unique_id":             "hundesystem_" + objectID,
		"object_id":             objectID,
		"state_topic":           base + "/state",
		"json_attributes_topic": base + "/attributes",
		"availability_topic":    p.opts.AvailabilityTopic(),
		"payload_on":            payloadOn,
		"payload_off":           payloadOff,
		"device": map[string]any{
			"identifiers":  []string{"hundesystem_" + s.Dog.ID.String()},
			"name":         s.Dog.Name,
			"manufacturer": "Hundesystem",
			"model":        "Hund",
		},
	}
	if s.Spec.Icon != "" {
		config["icon"] = s.Spec.Icon
	}
	if s.Spec.DeviceClass != "" {
		config["device_class"] = s.Spec.DeviceClass
	}
	return config
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.opts.QoS, true, payload)

	timer := time.NewTimer(p.opts.PublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("failed to publish to %s: timeout after %v", topic, p.opts.PublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
