package hass

import (
	"context"

	"github.com/rs/zerolog/log"
)

// HelperRequest describes one helper entity to create.
type HelperRequest struct {
	Domain   string
	ObjectID string
	Name     string
	Params   map[string]any
}

// EntityID returns the entity ID the helper is expected to get.
func (r HelperRequest) EntityID() string {
	return r.Domain + "." + r.ObjectID
}

// Host bundles the websocket and REST clients behind the operations the rest
// of the service needs from Home Assistant.
type Host struct {
	WS   *Client
	REST *RESTClient
}

func (h *Host) Services(ctx context.Context) (Services, error) {
	return h.WS.GetServices(ctx)
}

// Lookup returns the current state of an entity, or nil if it does not exist.
func (h *Host) Lookup(ctx context.Context, entityID string) (*State, error) {
	state, err := h.REST.GetState(ctx, entityID)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// CreateHelper creates the helper with its object ID as name, so Home Assistant
// derives exactly that entity ID, then sets the display name in the registry.
func (h *Host) CreateHelper(ctx context.Context, req HelperRequest) error {
	fields := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		fields[k] = v
	}
	fields["name"] = req.ObjectID

	id, err := h.WS.CreateHelper(ctx, req.Domain, fields)
	if err != nil {
		return err
	}

	entityID := req.Domain + "." + id
	if id != req.ObjectID {
		// Retrying would only add more suffixed copies.
		collision := &CollisionError{EntityID: req.EntityID(), CreatedAs: entityID}
		if err := h.WS.DeleteHelper(ctx, req.Domain, id); err != nil {
			log.Warn().Err(err).Str("entity_id", entityID).Msg("Failed to remove stray helper")
		} else {
			collision.Removed = true
		}
		return collision
	}

	update := map[string]any{"name": req.Name}
	if icon, ok := req.Params["icon"]; ok {
		update["icon"] = icon
	}

	return h.WS.UpdateEntityRegistry(ctx, entityID, update)
}

func (h *Host) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	return h.WS.CallService(ctx, domain, service, data)
}

func (h *Host) SetState(ctx context.Context, entityID, state string, attributes map[string]any) error {
	return h.REST.SetState(ctx, entityID, state, attributes)
}

func (h *Host) SaveDashboard(ctx context.Context, d Dashboard, config any) error {
	return h.WS.SaveDashboard(ctx, d, config)
}
