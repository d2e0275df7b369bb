package hass

import "strings"

const (
	EntitySwitch        = "switch"
	EntitySensor        = "sensor"
	EntityBinarySensor  = "binary_sensor"
	EntityInputBoolean  = "input_boolean"
	EntityInputButton   = "input_button"
	EntityInputDateTime = "input_datetime"
	EntityInputNumber   = "input_number"
	EntityInputSelect   = "input_select"
	EntityInputText     = "input_text"
	EntityCounter       = "counter"
	EntityPerson        = "person"
	EntityDeviceTracker = "device_tracker"
	EntityAutomation    = "automation"
)

// Service domains that are not entity domains.
const (
	DomainNotify                 = "notify"
	DomainPersistentNotification = "persistent_notification"
)

const (
	BooleanOnValue    = "on"
	BooleanOffValue   = "off"
	BooleanTrueValue  = "true"
	BooleanFalseValue = "false"

	UnknownValue     = "unknown"
	UnavailableValue = "unavailable"

	PersonHomeValue = "home"
)

// SplitEntityID splits an entity ID in the format domain.object_id.
func SplitEntityID(entityID string) (domain, objectID string) {
	domain, objectID, _ = strings.Cut(entityID, ".")
	return domain, objectID
}

// IsOn reports whether a raw state value represents an active boolean.
func IsOn(value string) bool {
	switch value {
	case BooleanOnValue, BooleanTrueValue:
		return true
	default:
		return false
	}
}

// IsPlaceholder reports whether a state value carries no real information.
func IsPlaceholder(value string) bool {
	switch value {
	case "", UnknownValue, UnavailableValue:
		return true
	default:
	}

	return false
}
