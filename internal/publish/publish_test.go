package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/hasstest"
	"github.com/jkaflik/hundesystem/internal/status"
)

var bello = dog.Dog{ID: "bello", Name: "Bello"}

func sensor(t *testing.T, suffix dog.Suffix) status.Sensor {
	t.Helper()
	spec, ok := catalog.New().Sensor(suffix)
	require.True(t, ok)
	return status.Sensor{Dog: bello, Spec: spec, EntityID: spec.EntityID(bello.ID)}
}

func TestRESTPublisher(t *testing.T) {
	host := hasstest.New()
	p := NewRESTPublisher(host)

	s := sensor(t, dog.OverdueFeeding)
	err := p.Publish(context.Background(), s, status.Assessment{
		On:         true,
		Attributes: map[string]any{"severity": "medium"},
	})
	require.NoError(t, err)

	st := host.State("binary_sensor.bello_overdue_feeding")
	require.NotNil(t, st)
	assert.Equal(t, "on", st.State)
	assert.Equal(t, "medium", st.Attributes["severity"])
	assert.Equal(t, "Bello Fütterung überfällig", st.Attributes["friendly_name"])
	assert.Equal(t, "problem", st.Attributes["device_class"])
	assert.Equal(t, "bello", st.Attributes["dog"])
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return newToken(c.err)
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.topic
	}
	return out
}

func TestMQTTPublisher_DiscoveryOnce(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(client, MQTTOptions{})
	s := sensor(t, dog.FeedingComplete)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, s, status.Assessment{On: false, Attributes: map[string]any{"completed": 2}}))
	require.NoError(t, p.Publish(ctx, s, status.Assessment{On: true, Attributes: map[string]any{"completed": 3}}))

	assert.Equal(t, []string{
		"homeassistant/binary_sensor/bello_feeding_complete/config",
		"hundesystem/bello_feeding_complete/attributes",
		"hundesystem/bello_feeding_complete/state",
		"hundesystem/bello_feeding_complete/attributes",
		"hundesystem/bello_feeding_complete/state",
	}, client.topics())

	for _, m := range client.messages {
		assert.True(t, m.retained, m.topic)
	}

	var config map[string]any
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &config))
	assert.Equal(t, "bello_feeding_complete", config["object_id"])
	assert.Equal(t, "hundesystem_bello_feeding_complete", config["unique_id"])
	assert.Equal(t, "hundesystem/status", config["availability_topic"])
	assert.Equal(t, "Fütterung komplett", config["name"])

	assert.Equal(t, "OFF", string(client.messages[2].payload))
	assert.Equal(t, "ON", string(client.messages[4].payload))
	assert.JSONEq(t, `{"completed":3}`, string(client.messages[3].payload))
}

func TestMQTTPublisher_RetriesDiscoveryAfterFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := NewMQTTPublisher(client, MQTTOptions{DiscoveryPrefix: "ha", TopicPrefix: "dogs"})
	s := sensor(t, dog.SystemHealth)
	ctx := context.Background()

	err := p.Publish(ctx, s, status.Assessment{})
	assert.ErrorContains(t, err, "ha/binary_sensor/bello_system_health/config")

	client.err = nil
	require.NoError(t, p.Publish(ctx, s, status.Assessment{}))
	assert.Equal(t, "ha/binary_sensor/bello_system_health/config", client.topics()[1])
}
