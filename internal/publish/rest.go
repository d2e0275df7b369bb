// Package publish makes the derived binary sensors visible in Home Assistant.
package publish

import (
	"context"
	"fmt"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/status"
)

// StateSetter writes an entity state through the REST API.
type StateSetter interface {
	SetState(ctx context.Context, entityID, state string, attributes map[string]any) error
}

// RESTPublisher publishes sensors with POST /api/states/<entity_id>. The
// entities live until the host restarts and are republished on startup.
type RESTPublisher struct {
	host StateSetter
}

func NewRESTPublisher(host StateSetter) *RESTPublisher {
	return &RESTPublisher{host: host}
}

func (p *RESTPublisher) Publish(ctx context.Context, s status.Sensor, a status.Assessment) error {
	if err := p.host.SetState(ctx, s.EntityID, stateValue(a.On), Attributes(s, a)); err != nil {
		return fmt.Errorf("failed to set state of %s: %w", s.EntityID, err)
	}
	return nil
}

// Attributes returns the assessment attributes together with the presentation
// attributes of the sensor.
func Attributes(s status.Sensor, a status.Assessment) map[string]any {
	attrs := make(map[string]any, len(a.Attributes)+3)
	for k, v := range a.Attributes {
		attrs[k] = v
	}
	attrs["friendly_name"] = s.Dog.Name + " " + s.Spec.Label
	if s.Spec.Icon != "" {
		attrs["icon"] = s.Spec.Icon
	}
	if s.Spec.DeviceClass != "" {
		attrs["device_class"] = s.Spec.DeviceClass
	}
	attrs["dog"] = s.Dog.ID.String()
	return attrs
}

func stateValue(on bool) string {
	if on {
		return hass.BooleanOnValue
	}
	return hass.BooleanOffValue
}
