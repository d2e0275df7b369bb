package hass

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	MessageTypeResult       = "result"
	MessageTypeAuthRequired = "auth_required"
	MessageTypeAuthOK       = "auth_ok"
	MessageTypeAuthInvalid  = "auth_invalid"
	MessageTypeEvent        = "event"

	MessageTypeAuth            = "auth"
	MessageTypeSubscribeEvents = "subscribe_events"
	MessageTypeGetStates       = "get_states"
	MessageTypeGetServices     = "get_services"
	MessageTypeCallService     = "call_service"

	MessageTypeEntityRegistryUpdate = "config/entity_registry/update"
	MessageTypeLovelaceCreate       = "lovelace/dashboards/create"
	MessageTypeLovelaceSave         = "lovelace/config/save"
)

// AuthMessage answers auth_required.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// EventMessage is pushed for every event of a subscription. ID is the ID of
// the subscribe_events command.
type EventMessage struct {
	ID    int    `json:"id"`
	Type  string `json:"type"`
	Event Event  `json:"event"`
}

type EventType string

const (
	EventTypeStateChanged       EventType = "state_changed"
	EventTypeNotificationAction EventType = "mobile_app_notification_action"
)

// State is a point-in-time record of an entity as the host stores it.
type State struct {
	EntityID     string         `json:"entity_id"`
	State        string         `json:"state"`
	Attributes   map[string]any `json:"attributes"`
	LastChanged  time.Time      `json:"last_changed"`
	LastUpdated  time.Time      `json:"last_updated"`
	LastReported *time.Time     `json:"last_reported,omitempty"`
	Context      EventContext   `json:"context"`
}

// Domain returns the domain part of the entity ID.
func (s *State) Domain() string {
	domain, _ := SplitEntityID(s.EntityID)
	return domain
}

// FriendlyName returns the friendly_name attribute or an empty string.
func (s *State) FriendlyName() string {
	return s.StringAttr("friendly_name")
}

// StringAttr returns a string attribute, or an empty string if it is missing or not a string.
func (s *State) StringAttr(name string) string {
	if s.Attributes == nil {
		return ""
	}
	v, _ := s.Attributes[name].(string)
	return v
}

// Clone returns a deep enough copy for callers that mutate attributes.
func (s *State) Clone() *State {
	c := *s
	if s.Attributes != nil {
		c.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

type EventData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

// NotificationActionData is the payload of a mobile_app_notification_action event.
type NotificationActionData struct {
	Action     string `json:"action"`
	Tag        string `json:"tag,omitempty"`
	Dog        string `json:"dog,omitempty"`
	ReplyText  string `json:"reply_text,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	ActionData any    `json:"action_data,omitempty"`
}

type EventContext struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	UserID   *string `json:"user_id"`
}

type Event struct {
	EventType EventType       `json:"event_type"`
	TimeFired time.Time       `json:"time_fired"`
	Origin    string          `json:"origin"`
	Context   EventContext    `json:"context"`
	Data      json.RawMessage `json:"data"`
}

// StateChanged decodes the data of a state_changed event.
func (e *Event) StateChanged() (*EventData, error) {
	if e.EventType != EventTypeStateChanged {
		return nil, fmt.Errorf("unexpected event type: %s", e.EventType)
	}

	var data EventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state_changed data: %w", err)
	}
	if data.EntityID == "" {
		return nil, fmt.Errorf("event.data.entity_id is missing")
	}

	return &data, nil
}

// NotificationAction decodes the data of a mobile_app_notification_action event.
func (e *Event) NotificationAction() (*NotificationActionData, error) {
	if e.EventType != EventTypeNotificationAction {
		return nil, fmt.Errorf("unexpected event type: %s", e.EventType)
	}

	var data NotificationActionData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification action data: %w", err)
	}
	data.Action = strings.TrimSpace(data.Action)
	if data.Action == "" {
		return nil, fmt.Errorf("event.data.action is missing")
	}

	return &data, nil
}
