// Package dashboard generates the Lovelace dashboard of a dog.
package dashboard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
)

// Config is a Lovelace dashboard configuration.
type Config struct {
	Title string `yaml:"title" json:"title"`
	Views []View `yaml:"views" json:"views"`
}

type View struct {
	Title string `yaml:"title" json:"title"`
	Path  string `yaml:"path" json:"path"`
	Icon  string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Cards []Card `yaml:"cards" json:"cards"`
}

// Card is one Lovelace card.
type Card struct {
	Type      string         `yaml:"type" json:"type"`
	Title     string         `yaml:"title,omitempty" json:"title,omitempty"`
	Entities  []any          `yaml:"entities,omitempty" json:"entities,omitempty"`
	Cards     []Card         `yaml:"cards,omitempty" json:"cards,omitempty"`
	Entity    string         `yaml:"entity,omitempty" json:"entity,omitempty"`
	Name      string         `yaml:"name,omitempty" json:"name,omitempty"`
	Icon      string         `yaml:"icon,omitempty" json:"icon,omitempty"`
	TapAction map[string]any `yaml:"tap_action,omitempty" json:"tap_action,omitempty"`
}

// Saver stores a dashboard on the host.
type Saver interface {
	SaveDashboard(ctx context.Context, d hass.Dashboard, config any) error
}

// Build returns the dashboard of one dog.
func Build(cat *catalog.Catalog, d dog.Dog) Config {
	id := d.ID

	var sensors []any
	for _, s := range cat.Sensors() {
		sensors = append(sensors, s.EntityID(id))
	}

	var feeding []any
	for _, m := range cat.Meals() {
		feeding = append(feeding,
			id.Entity(hass.EntityInputBoolean, m.Fed),
			id.Entity(hass.EntityInputDateTime, m.Scheduled),
			id.Entity(hass.EntityInputDateTime, m.Last),
		)
	}

	activity := []any{
		id.Entity(hass.EntityInputBoolean, dog.Outside),
		id.Entity(hass.EntityInputBoolean, dog.PoopDone),
		id.Entity(hass.EntityInputBoolean, dog.WalkInProgress),
		id.Entity(hass.EntityInputDateTime, dog.LastOutside),
		id.Entity(hass.EntityInputDateTime, dog.LastWalk),
		id.Entity(hass.EntityInputDateTime, dog.LastPlay),
		id.Entity(hass.EntityInputDateTime, dog.LastActivity),
		id.Entity(hass.EntityCounter, dog.OutsideCount),
		id.Entity(hass.EntityCounter, dog.WalkCount),
		id.Entity(hass.EntityCounter, dog.PlayCount),
		id.Entity(hass.EntityInputText, dog.LastActivityNote),
	}

	health := []any{
		id.Entity(hass.EntityInputSelect, dog.HealthStatus),
		id.Entity(hass.EntityInputSelect, dog.Mood),
		id.Entity(hass.EntityInputSelect, dog.EnergyLevel),
		id.Entity(hass.EntityInputSelect, dog.EmergencyLevel),
		id.Entity(hass.EntityInputNumber, dog.Weight),
		id.Entity(hass.EntityInputNumber, dog.Temperature),
		id.Entity(hass.EntityInputBoolean, dog.MedicationGiven),
		id.Entity(hass.EntityInputText, dog.MedicationNotes),
		id.Entity(hass.EntityInputText, dog.HealthNotes),
		id.Entity(hass.EntityInputDateTime, dog.NextVetAppointment),
		id.Entity(hass.EntityInputText, dog.VetContact),
	}

	var buttons []Card
	for _, b := range cat.Buttons() {
		entityID := b.EntityID(id)
		buttons = append(buttons, Card{
			Type:   "button",
			Entity: entityID,
			Name:   b.Label,
			Icon:   b.Icon,
			TapAction: map[string]any{
				"action":  "call-service",
				"service": hass.EntityInputButton + ".press",
				"target":  map[string]any{"entity_id": entityID},
			},
		})
	}

	return Config{
		Title: d.Name,
		Views: []View{
			{
				Title: d.Name,
				Path:  id.String(),
				Icon:  "mdi:dog",
				Cards: []Card{
					{Type: "entities", Title: "Status", Entities: sensors},
					{Type: "entities", Title: "Fütterung", Entities: feeding},
					{Type: "entities", Title: "Aktivität", Entities: activity},
					{Type: "entities", Title: "Gesundheit", Entities: health},
					{Type: "grid", Title: "Aktionen", Cards: buttons},
				},
			},
		},
	}
}

// Dashboard returns the host dashboard descriptor of a dog. Lovelace url
// paths need a hyphen.
func Dashboard(d dog.Dog) hass.Dashboard {
	return hass.Dashboard{
		URLPath:       "hundesystem-" + strings.ReplaceAll(d.ID.String(), "_", "-"),
		Title:         "Hund " + d.Name,
		Icon:          "mdi:dog",
		ShowInSidebar: true,
	}
}

// Export writes the dashboard to <dir>/<dog_id>.yaml and returns the path.
func Export(dir string, d dog.Dog, cfg Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dashboard: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dashboard directory: %w", err)
	}

	path := filepath.Join(dir, d.ID.String()+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write dashboard: %w", err)
	}

	return path, nil
}

// Save stores the dashboard on the host.
func Save(ctx context.Context, host Saver, d dog.Dog, cfg Config) error {
	return host.SaveDashboard(ctx, Dashboard(d), cfg)
}
