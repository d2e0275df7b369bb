package journal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/dog"
)

const table = "activity"

const (
	databaseDDL = `CREATE DATABASE IF NOT EXISTS %s`

	activityDDL = `
CREATE TABLE IF NOT EXISTS %s.%s (
    dog LowCardinality(String),
    entity_id LowCardinality(String),
    domain LowCardinality(String),
    suffix LowCardinality(String),
    state String,
    old_state String,
    value Nullable(Float64),
    attributes String,
    context_id String,
    last_changed DateTime64(3, 'UTC'),
    last_updated DateTime64(3, 'UTC'),
    received_at DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(last_updated)
ORDER BY (dog, suffix, last_updated)
SETTINGS index_granularity = 8192;`
)

// Row is one journaled state change of a dog helper entity.
type Row struct {
	Dog         string   `json:"dog"`
	EntityID    string   `json:"entity_id"`
	Domain      string   `json:"domain"`
	Suffix      string   `json:"suffix"`
	State       string   `json:"state"`
	OldState    string   `json:"old_state"`
	Value       *float64 `json:"value"`
	Attributes  string   `json:"attributes"`
	ContextID   string   `json:"context_id"`
	LastChanged string   `json:"last_changed"`
	LastUpdated string   `json:"last_updated"`
}

// createSchema creates the database and the activity table.
func createSchema(ctx context.Context, client Client, database string) error {
	if err := client.Execute(ctx, fmt.Sprintf(databaseDDL, database), nil); err != nil {
		return fmt.Errorf("failed to create database %s: %w", database, err)
	}
	if err := client.Execute(ctx, fmt.Sprintf(activityDDL, database, table), nil); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", database, table, err)
	}
	return nil
}

func resolveRow(id dog.ID, suffix dog.Suffix, data *hass.EventData) (Row, error) {
	if data.NewState == nil {
		return Row{}, errors.New("event.data.new_state is missing")
	}

	newState := data.NewState
	if hass.IsPlaceholder(newState.State) {
		return Row{}, fmt.Errorf("skipping event with unknown state: %s", newState.State)
	}

	oldStateValue := ""
	if data.OldState != nil && !hass.IsPlaceholder(data.OldState.State) {
		oldStateValue = data.OldState.State
	}

	domain := newState.Domain()
	row := Row{
		Dog:         id.String(),
		EntityID:    newState.EntityID,
		Domain:      domain,
		Suffix:      string(suffix),
		State:       newState.State,
		OldState:    oldStateValue,
		Value:       numericValue(domain, newState.State),
		ContextID:   newState.Context.ID,
		LastChanged: newState.LastChanged.UTC().Format(time.RFC3339Nano),
		LastUpdated: newState.LastUpdated.UTC().Format(time.RFC3339Nano),
	}

	if len(newState.Attributes) > 0 {
		attrs, err := marshalAttributes(newState.Attributes)
		if err != nil {
			return Row{}, err
		}
		row.Attributes = attrs
	}

	return row, nil
}

// numericValue gives counters and numbers a queryable value; booleans map to 0 and 1.
func numericValue(domain, state string) *float64 {
	var v float64
	switch domain {
	case hass.EntityCounter, hass.EntityInputNumber:
		f, err := strconv.ParseFloat(state, 64)
		if err != nil {
			return nil
		}
		v = f
	case hass.EntityInputBoolean, hass.EntityBinarySensor:
		if hass.IsOn(state) {
			v = 1
		}
	default:
		return nil
	}
	return &v
}
