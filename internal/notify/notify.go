// Package notify delivers push and persistent notifications for a dog.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v2"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/metrics"
)

const mobileAppPrefix = "mobile_app_"

// Host is the part of Home Assistant the dispatcher calls into.
type Host interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// States gives point-in-time access to entity states.
type States interface {
	Get(entityID string) (*hass.State, bool)
	ByDomain(domain string) []*hass.State
}

// Reply is an interactive action attached to a push notification.
type Reply struct {
	Action string
	Title  string
}

// Message is one notification.
type Message struct {
	Title   string
	Message string
	// Tag groups notifications on the device and keys the cooldown. An empty
	// tag disables the cooldown.
	Tag     string
	Replies []Reply
	// Emergency messages bypass visitor mode and are sent as critical alerts.
	Emergency bool
}

// Target configures the recipients of one dog.
type Target struct {
	PersonTracking bool
	PushDevices    []string
}

// Delivery describes what happened to one Notify call.
type Delivery struct {
	Recipients []string
	Failed     []string
	// Suppressed is set when nothing was sent: "cooldown", "visitor_mode" or "no_recipients".
	Suppressed string
}

type Options struct {
	Cooldown time.Duration
	Targets  map[dog.ID]Target
}

// Dispatcher resolves recipients and sends notifications to them.
type Dispatcher struct {
	host     Host
	states   States
	targets  map[dog.ID]Target
	cooldown time.Duration
	cache    *ttlcache.Cache
}

func NewDispatcher(host Host, states States, opts Options) *Dispatcher {
	cache := ttlcache.NewCache()
	cache.SkipTTLExtensionOnHit(true)
	if opts.Cooldown > 0 {
		_ = cache.SetTTL(opts.Cooldown)
	}

	return &Dispatcher{
		host:     host,
		states:   states,
		targets:  opts.Targets,
		cooldown: opts.Cooldown,
		cache:    cache,
	}
}

// Close stops the cooldown cache.
func (d *Dispatcher) Close() error {
	return d.cache.Close()
}

// Recipients returns the notify services a message for the dog goes to.
// Persons at home win when person tracking is on; the static device list is
// the fallback.
func (d *Dispatcher) Recipients(id dog.ID) []string {
	target := d.targets[id]

	var out []string
	if target.PersonTracking {
		for _, p := range d.states.ByDomain(hass.EntityPerson) {
			if p.State != hass.PersonHomeValue {
				continue
			}
			_, objectID := hass.SplitEntityID(p.EntityID)
			out = append(out, mobileAppPrefix+objectID)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, device := range target.PushDevices {
		device = strings.TrimPrefix(strings.TrimSpace(device), hass.DomainNotify+".")
		if device != "" {
			out = append(out, device)
		}
	}
	return out
}

// Notify sends the message to every recipient of the dog concurrently and
// waits for all sends. A failed recipient does not affect the others.
func (d *Dispatcher) Notify(ctx context.Context, dg dog.Dog, m Message) Delivery {
	logger := log.With().Str("dog", dg.ID.String()).Str("tag", m.Tag).Logger()

	if !m.Emergency && d.visitorMode(dg.ID) {
		logger.Debug().Msg("Notification suppressed in visitor mode")
		metrics.NotificationsSent.WithLabelValues("suppressed").Inc()
		return Delivery{Suppressed: "visitor_mode"}
	}

	// Emergencies are never held back.
	cooldownKey := ""
	if m.Tag != "" && d.cooldown > 0 && !m.Emergency {
		cooldownKey = dg.ID.String() + "/" + m.Tag
		if _, err := d.cache.Get(cooldownKey); err == nil {
			logger.Debug().Msg("Notification suppressed by cooldown")
			metrics.NotificationsSent.WithLabelValues("suppressed").Inc()
			return Delivery{Suppressed: "cooldown"}
		} else if !errors.Is(err, ttlcache.ErrNotFound) {
			logger.Warn().Err(err).Msg("Cooldown cache lookup failed")
		}
	}

	recipients := d.Recipients(dg.ID)
	if len(recipients) == 0 {
		logger.Warn().Msg("No notification recipients")
		metrics.NotificationsSent.WithLabelValues("no_recipients").Inc()
		return Delivery{Suppressed: "no_recipients"}
	}

	data := payload(dg, m)
	failed := make([]bool, len(recipients))

	var wg sync.WaitGroup
	for i, service := range recipients {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := d.host.CallService(ctx, hass.DomainNotify, service, data)
			if err != nil {
				failed[i] = true
				logger.Error().Err(err).Str("service", service).Msg("Failed to send notification")
				metrics.NotificationsSent.WithLabelValues("failure").Inc()
				return
			}
			metrics.NotificationsSent.WithLabelValues("success").Inc()
		}()
	}
	wg.Wait()

	delivery := Delivery{Recipients: recipients}
	for i, f := range failed {
		if f {
			delivery.Failed = append(delivery.Failed, recipients[i])
		}
	}

	// The cooldown starts with the first message that reached someone.
	if cooldownKey != "" && len(delivery.Failed) < len(recipients) {
		if err := d.cache.Set(cooldownKey, time.Now()); err != nil {
			logger.Warn().Err(err).Msg("Failed to record notification cooldown")
		}
	}
	return delivery
}

// Persist creates a persistent notification on the host.
func (d *Dispatcher) Persist(ctx context.Context, notificationID, title, message string) error {
	err := d.host.CallService(ctx, hass.DomainPersistentNotification, "create", map[string]any{
		"notification_id": notificationID,
		"title":           title,
		"message":         message,
	})
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("failure").Inc()
		return err
	}
	metrics.NotificationsSent.WithLabelValues("success").Inc()
	return nil
}

func (d *Dispatcher) visitorMode(id dog.ID) bool {
	st, ok := d.states.Get(id.Entity(hass.EntityInputBoolean, dog.VisitorMode))
	return ok && hass.IsOn(st.State)
}

func payload(dg dog.Dog, m Message) map[string]any {
	extra := map[string]any{
		"dog": dg.ID.String(),
	}
	if m.Tag != "" {
		extra["tag"] = m.Tag
	}
	if len(m.Replies) > 0 {
		actions := make([]map[string]any, len(m.Replies))
		for i, r := range m.Replies {
			actions[i] = map[string]any{"action": r.Action, "title": r.Title}
		}
		extra["actions"] = actions
	}
	if m.Emergency {
		extra["ttl"] = 0
		extra["priority"] = "high"
		extra["push"] = map[string]any{
			"sound": map[string]any{"name": "default", "critical": 1, "volume": 1.0},
		}
	}

	return map[string]any{
		"title":   m.Title,
		"message": m.Message,
		"data":    extra,
	}
}

// ReplyAction formats the identifier of a reply: "<ACTION>:<dog_id>".
func ReplyAction(action string, id dog.ID) string {
	return strings.ToUpper(action) + ":" + id.String()
}

// ParseReplyAction splits an identifier built by ReplyAction.
func ParseReplyAction(s string) (action string, id dog.ID, ok bool) {
	action, rest, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found || action == "" || rest == "" {
		return strings.ToUpper(action), "", false
	}
	return strings.ToUpper(action), dog.ID(strings.ToLower(rest)), true
}
