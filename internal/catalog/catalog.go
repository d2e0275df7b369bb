// Package catalog holds the static description of every helper entity, binary
// sensor and button the service manages per dog. A Catalog is built once at
// startup and shared read-only.
package catalog

import (
	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/dog"
)

// Params are the domain-specific fields of a "<domain>/create" command.
type Params map[string]any

// EntitySpec describes one helper entity of a dog.
type EntitySpec struct {
	Suffix dog.Suffix
	Label  string
	Domain string
	Icon   string
	Params Params
}

// DisplayName returns "<dog name> <label>".
func (s EntitySpec) DisplayName(d dog.Dog) string {
	return d.Name + " " + s.Label
}

// EntityID returns the entity ID of the spec for the given dog.
func (s EntitySpec) EntityID(id dog.ID) string {
	return id.Entity(s.Domain, s.Suffix)
}

// Request turns the spec into a helper creation request for the given dog.
func (s EntitySpec) Request(d dog.Dog) hass.HelperRequest {
	params := make(map[string]any, len(s.Params)+1)
	for k, v := range s.Params {
		params[k] = v
	}
	if s.Icon != "" {
		params["icon"] = s.Icon
	}

	return hass.HelperRequest{
		Domain:   s.Domain,
		ObjectID: d.ID.ObjectID(s.Suffix),
		Name:     s.DisplayName(d),
		Params:   params,
	}
}

// EntityRef points at one entity of a dog without carrying its parameters.
type EntityRef struct {
	Domain string
	Suffix dog.Suffix
}

func (r EntityRef) EntityID(id dog.ID) string {
	return id.Entity(r.Domain, r.Suffix)
}

// SensorSpec describes a derived binary sensor published by the service.
type SensorSpec struct {
	Suffix      dog.Suffix
	Label       string
	Icon        string
	DeviceClass string
}

func (s SensorSpec) EntityID(id dog.ID) string {
	return id.Entity(hass.EntityBinarySensor, s.Suffix)
}

// Catalog is the immutable table of everything provisioned and published per dog.
type Catalog struct {
	domains  []string
	specs    map[string][]EntitySpec
	buttons  []EntitySpec
	sensors  []SensorSpec
	meals    []Meal
	critical []EntityRef
}

// New builds the catalog.
func New() *Catalog {
	c := &Catalog{
		domains: []string{
			hass.EntityInputBoolean,
			hass.EntityCounter,
			hass.EntityInputDateTime,
			hass.EntityInputText,
			hass.EntityInputNumber,
			hass.EntityInputSelect,
		},
		specs: map[string][]EntitySpec{
			hass.EntityInputBoolean:  booleans(),
			hass.EntityCounter:       counters(),
			hass.EntityInputDateTime: datetimes(),
			hass.EntityInputText:     texts(),
			hass.EntityInputNumber:   numbers(),
			hass.EntityInputSelect:   selects(),
		},
		buttons: buttons(),
		sensors: sensors(),
		meals:   meals(),
		critical: []EntityRef{
			{Domain: hass.EntityInputBoolean, Suffix: dog.FeedingMorning},
			{Domain: hass.EntityCounter, Suffix: dog.OutsideCount},
			{Domain: hass.EntityInputText, Suffix: dog.Notes},
			{Domain: hass.EntityInputDateTime, Suffix: dog.LastOutside},
			{Domain: hass.EntityInputSelect, Suffix: dog.HealthStatus},
			{Domain: hass.EntityInputNumber, Suffix: dog.Weight},
		},
	}

	return c
}

// Domains returns the required helper domains in provisioning order.
func (c *Catalog) Domains() []string {
	return append([]string(nil), c.domains...)
}

// Specs returns the entity specs of one domain in provisioning order.
// input_button returns the button specs.
func (c *Catalog) Specs(domain string) []EntitySpec {
	if domain == hass.EntityInputButton {
		return c.Buttons()
	}
	return append([]EntitySpec(nil), c.specs[domain]...)
}

// Spec looks up a single spec by domain and suffix.
func (c *Catalog) Spec(domain string, suffix dog.Suffix) (EntitySpec, bool) {
	for _, s := range c.Specs(domain) {
		if s.Suffix == suffix {
			return s, true
		}
	}
	return EntitySpec{}, false
}

// Len returns the number of helper entities of the required domains.
func (c *Catalog) Len() int {
	n := 0
	for _, d := range c.domains {
		n += len(c.specs[d])
	}
	return n
}

func (c *Catalog) Buttons() []EntitySpec {
	return append([]EntitySpec(nil), c.buttons...)
}

func (c *Catalog) Sensors() []SensorSpec {
	return append([]SensorSpec(nil), c.sensors...)
}

// Sensor looks up a binary sensor spec by suffix.
func (c *Catalog) Sensor(suffix dog.Suffix) (SensorSpec, bool) {
	for _, s := range c.sensors {
		if s.Suffix == suffix {
			return s, true
		}
	}
	return SensorSpec{}, false
}

// Meals returns the meals in schedule order.
func (c *Catalog) Meals() []Meal {
	return append([]Meal(nil), c.meals...)
}

// Meal looks up a meal by key.
func (c *Catalog) Meal(key string) (Meal, bool) {
	for _, m := range c.meals {
		if m.Key == key {
			return m, true
		}
	}
	return Meal{}, false
}

// EssentialMeals returns the meals that count towards "fed for the day".
func (c *Catalog) EssentialMeals() []Meal {
	var out []Meal
	for _, m := range c.meals {
		if m.Essential {
			out = append(out, m)
		}
	}
	return out
}

// Critical returns the representative entities re-verified after provisioning.
func (c *Catalog) Critical() []EntityRef {
	return append([]EntityRef(nil), c.critical...)
}
