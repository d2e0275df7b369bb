// Package hasstest provides an in-memory Home Assistant used by package tests.
package hasstest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jkaflik/hundesystem/hass"
)

// Call records one service call.
type Call struct {
	Domain  string
	Service string
	Data    map[string]any
}

// Host implements the host operations of the service against an in-memory
// state table. It applies the effect of the helper services it knows.
type Host struct {
	mu sync.Mutex

	services   hass.Services
	states     map[string]*hass.State
	calls      []Call
	created    map[string]int
	dashboards map[string]any

	createFailures map[string]int
	collisions     map[string]bool
	hiddenLookups  map[string]int
	serviceErrors  map[string]error
	createDelay    time.Duration

	Now func() time.Time
}

// New returns a host supporting every helper domain plus notify and
// persistent_notification.
func New() *Host {
	services := hass.Services{}
	for _, domain := range []string{
		hass.EntityInputBoolean, hass.EntityCounter, hass.EntityInputDateTime,
		hass.EntityInputText, hass.EntityInputNumber, hass.EntityInputSelect,
		hass.EntityInputButton,
	} {
		services[domain] = []string{"reload"}
	}
	services[hass.DomainNotify] = []string{"notify"}
	services[hass.DomainPersistentNotification] = []string{"create", "dismiss"}

	return &Host{
		services:       services,
		states:         make(map[string]*hass.State),
		created:        make(map[string]int),
		dashboards:     make(map[string]any),
		createFailures: make(map[string]int),
		collisions:     make(map[string]bool),
		hiddenLookups:  make(map[string]int),
		serviceErrors:  make(map[string]error),
		Now:            time.Now,
	}
}

// RemoveDomain drops a domain from the advertised services.
func (h *Host) RemoveDomain(domain string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.services, domain)
}

// FailCreate makes the next n creations of entityID fail.
func (h *Host) FailCreate(entityID string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.createFailures[entityID] = n
}

// CollideOn marks the object ID of entityID as taken by an entity outside the
// state table, so creating it lands on a suffixed ID like the real host does.
func (h *Host) CollideOn(entityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collisions[entityID] = true
}

// HideAfterCreate makes the next n lookups of entityID miss, even once created.
func (h *Host) HideAfterCreate(entityID string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hiddenLookups[entityID] = n
}

// FailService makes every call of domain.service return err.
func (h *Host) FailService(domain, service string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serviceErrors[domain+"."+service] = err
}

// SetCreateDelay delays every creation, honoring context cancellation.
func (h *Host) SetCreateDelay(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.createDelay = d
}

// Put stores a state as-is.
func (h *Host) Put(entityID, value string, attributes map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.put(entityID, value, attributes)
}

func (h *Host) put(entityID, value string, attributes map[string]any) {
	if attributes == nil {
		attributes = map[string]any{}
	}
	now := h.Now()
	h.states[entityID] = &hass.State{
		EntityID:    entityID,
		State:       value,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
}

// State returns a copy of an entity state, or nil.
func (h *Host) State(entityID string) *hass.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.states[entityID]; ok {
		return st.Clone()
	}
	return nil
}

// States returns copies of all states.
func (h *Host) States() []hass.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]hass.State, 0, len(h.states))
	for _, st := range h.states {
		out = append(out, *st.Clone())
	}
	return out
}

// Calls returns the recorded service calls.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsTo returns the recorded calls of one service.
func (h *Host) CallsTo(domain, service string) []Call {
	var out []Call
	for _, c := range h.Calls() {
		if c.Domain == domain && c.Service == service {
			out = append(out, c)
		}
	}
	return out
}

// CreateCount returns how often entityID was created successfully.
func (h *Host) CreateCount(entityID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.created[entityID]
}

// TotalCreated returns the number of successful creations.
func (h *Host) TotalCreated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.created {
		n += c
	}
	return n
}

// Dashboard returns the saved config of a dashboard.
func (h *Host) Dashboard(urlPath string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, ok := h.dashboards[urlPath]
	return cfg, ok
}

func (h *Host) Services(ctx context.Context) (hass.Services, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(hass.Services, len(h.services))
	for k, v := range h.services {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

func (h *Host) Lookup(ctx context.Context, entityID string) (*hass.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := h.hiddenLookups[entityID]; n > 0 {
		h.hiddenLookups[entityID] = n - 1
		return nil, nil
	}
	if st, ok := h.states[entityID]; ok {
		return st.Clone(), nil
	}
	return nil, nil
}

func (h *Host) CreateHelper(ctx context.Context, req hass.HelperRequest) error {
	h.mu.Lock()
	delay := h.createDelay
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entityID := req.EntityID()
	if n := h.createFailures[entityID]; n > 0 {
		h.createFailures[entityID] = n - 1
		return fmt.Errorf("create %s: %w", entityID, hass.NewError(500, "injected failure", nil))
	}
	attributes := map[string]any{"friendly_name": req.Name, "editable": true}
	for k, v := range req.Params {
		attributes[k] = v
	}

	_, exists := h.states[entityID]
	if exists || h.collisions[entityID] {
		var stray string
		for n := 2; ; n++ {
			stray = entityID + "_" + strconv.Itoa(n)
			if _, ok := h.states[stray]; !ok {
				break
			}
		}
		h.put(stray, initialState(req), attributes)
		h.created[stray]++
		return &hass.CollisionError{EntityID: entityID, CreatedAs: stray}
	}

	h.put(entityID, initialState(req), attributes)
	h.created[entityID]++

	return nil
}

func initialState(req hass.HelperRequest) string {
	initial, hasInitial := req.Params["initial"]

	switch req.Domain {
	case hass.EntityInputBoolean:
		if b, ok := initial.(bool); ok && b {
			return hass.BooleanOnValue
		}
		return hass.BooleanOffValue
	case hass.EntityCounter:
		if hasInitial {
			return fmt.Sprint(initial)
		}
		return "0"
	case hass.EntityInputNumber:
		if f, ok := initial.(float64); ok {
			return strconv.FormatFloat(f, 'f', 1, 64)
		}
		return fmt.Sprint(req.Params["min"])
	case hass.EntityInputSelect:
		if s, ok := initial.(string); ok && s != "" {
			return s
		}
		if opts, ok := req.Params["options"].([]string); ok && len(opts) > 0 {
			return opts[0]
		}
		return hass.UnknownValue
	case hass.EntityInputDateTime, hass.EntityInputText:
		if s, ok := initial.(string); ok && s != "" {
			return s
		}
		return hass.UnknownValue
	default:
		return hass.UnknownValue
	}
}

func (h *Host) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	h.calls = append(h.calls, Call{Domain: domain, Service: service, Data: copied})

	if err := h.serviceErrors[domain+"."+service]; err != nil {
		return err
	}
	if _, ok := h.services[domain]; !ok {
		return hass.NewError(400, "service not found: "+domain+"."+service, nil)
	}

	if domain == hass.DomainNotify || domain == hass.DomainPersistentNotification {
		return nil
	}

	for _, entityID := range entityIDs(data["entity_id"]) {
		st, ok := h.states[entityID]
		if !ok {
			return hass.NewError(404, "entity not found: "+entityID, nil)
		}
		if err := h.apply(st, domain, service, data); err != nil {
			return err
		}
		now := h.Now()
		st.LastUpdated = now
		st.LastChanged = now
	}

	return nil
}

func (h *Host) apply(st *hass.State, domain, service string, data map[string]any) error {
	switch domain + "." + service {
	case "input_boolean.turn_on":
		st.State = hass.BooleanOnValue
	case "input_boolean.turn_off":
		st.State = hass.BooleanOffValue
	case "input_boolean.toggle":
		if hass.IsOn(st.State) {
			st.State = hass.BooleanOffValue
		} else {
			st.State = hass.BooleanOnValue
		}
	case "counter.increment":
		n, _ := strconv.Atoi(st.State)
		st.State = strconv.Itoa(n + 1)
	case "counter.decrement":
		n, _ := strconv.Atoi(st.State)
		st.State = strconv.Itoa(n - 1)
	case "counter.reset":
		st.State = fmt.Sprint(st.Attributes["initial"])
		if st.State == "<nil>" {
			st.State = "0"
		}
	case "counter.set_value", "input_text.set_value", "input_number.set_value":
		st.State = fmt.Sprint(data["value"])
	case "input_select.select_option":
		option := fmt.Sprint(data["option"])
		if opts, ok := st.Attributes["options"].([]string); ok && !contains(opts, option) {
			return hass.NewError(400, "invalid option: "+option, nil)
		}
		st.State = option
	case "input_datetime.set_datetime":
		switch {
		case data["datetime"] != nil:
			st.State = fmt.Sprint(data["datetime"])
		case data["time"] != nil:
			st.State = fmt.Sprint(data["time"])
		case data["timestamp"] != nil:
			ts, _ := data["timestamp"].(float64)
			st.State = time.Unix(int64(ts), 0).Format("2006-01-02 15:04:05")
		default:
			return hass.NewError(400, "set_datetime needs datetime, time or timestamp", nil)
		}
	case "input_button.press":
	default:
		return hass.NewError(400, "unsupported service "+domain+"."+service, nil)
	}

	return nil
}

func (h *Host) SetState(ctx context.Context, entityID, value string, attributes map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	copied := make(map[string]any, len(attributes))
	for k, v := range attributes {
		copied[k] = v
	}
	h.put(entityID, value, copied)
	return nil
}

func (h *Host) SaveDashboard(ctx context.Context, d hass.Dashboard, config any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dashboards[d.URLPath] = config
	return nil
}

func entityIDs(v any) []string {
	switch ids := v.(type) {
	case string:
		var out []string
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
		return out
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, fmt.Sprint(id))
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
