package hass

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CreateHelper creates a storage-backed helper (input_boolean, counter, ...)
// through the "<domain>/create" command and returns the object ID Home
// Assistant assigned to it.
func (c *Client) CreateHelper(ctx context.Context, domain string, fields map[string]any) (string, error) {
	v, err := c.command(ctx, domain+"/create", fields)
	if err != nil {
		return "", fmt.Errorf("failed to create %s helper: %w", domain, err)
	}

	id := ""
	if v != nil {
		id = string(v.GetStringBytes("id"))
	}
	if id == "" {
		return "", fmt.Errorf("failed to create %s helper: result carries no id", domain)
	}

	return id, nil
}

// DeleteHelper removes a storage-backed helper by its object ID.
func (c *Client) DeleteHelper(ctx context.Context, domain, id string) error {
	if _, err := c.command(ctx, domain+"/delete", map[string]any{domain + "_id": id}); err != nil {
		return fmt.Errorf("failed to delete %s helper %s: %w", domain, id, err)
	}

	return nil
}

// UpdateEntityRegistry changes registry settings (name, icon, ...) of an entity.
func (c *Client) UpdateEntityRegistry(ctx context.Context, entityID string, fields map[string]any) error {
	msg := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		msg[k] = v
	}
	msg["entity_id"] = entityID

	if _, err := c.command(ctx, MessageTypeEntityRegistryUpdate, msg); err != nil {
		return fmt.Errorf("failed to update entity registry for %s: %w", entityID, err)
	}

	return nil
}

// Dashboard describes a storage-mode Lovelace dashboard.
type Dashboard struct {
	URLPath       string
	Title         string
	Icon          string
	ShowInSidebar bool
}

// SaveDashboard creates the dashboard if needed and stores its configuration.
func (c *Client) SaveDashboard(ctx context.Context, d Dashboard, config any) error {
	_, err := c.command(ctx, MessageTypeLovelaceCreate, map[string]any{
		"url_path":        d.URLPath,
		"title":           d.Title,
		"icon":            d.Icon,
		"show_in_sidebar": d.ShowInSidebar,
		"require_admin":   false,
		"mode":            "storage",
	})
	if err != nil {
		// An existing dashboard with the same url_path is the common case on restarts.
		log.Debug().Err(err).Str("url_path", d.URLPath).Msg("Dashboard not created, saving config anyway")
	}

	if _, err := c.command(ctx, MessageTypeLovelaceSave, map[string]any{
		"url_path": d.URLPath,
		"config":   config,
	}); err != nil {
		return fmt.Errorf("failed to save dashboard %s: %w", d.URLPath, err)
	}

	return nil
}
