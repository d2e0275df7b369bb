package status

import (
	"fmt"
	"sort"
	"time"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
)

// NeverHours is reported for activities without a usable timestamp.
const NeverHours = 999.0

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// OverdueSeverity buckets minutes past a feeding deadline.
func OverdueSeverity(minutes float64) Severity {
	switch {
	case minutes < 30:
		return SeverityLow
	case minutes < 120:
		return SeverityMedium
	case minutes < 360:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

type Thresholds struct {
	Outside  time.Duration
	Walk     time.Duration
	Play     time.Duration
	Activity time.Duration
}

type Settings struct {
	// FeedingGrace is added to a scheduled meal time before it counts as overdue.
	FeedingGrace time.Duration
	Inactivity   Thresholds
	// StaleAfter is the age after which a monitored sensor counts as stale.
	StaleAfter time.Duration
	// TasksDue is the time of day after which open daily tasks need attention.
	TasksDue catalog.Clock
}

func DefaultSettings() Settings {
	return Settings{
		FeedingGrace: 60 * time.Minute,
		Inactivity: Thresholds{
			Outside:  6 * time.Hour,
			Walk:     24 * time.Hour,
			Play:     48 * time.Hour,
			Activity: 8 * time.Hour,
		},
		StaleAfter: 2 * time.Hour,
		TasksDue:   catalog.Clock{Hour: 20},
	}
}

// Rules builds every rule in evaluation order. system_health reads the other
// sensors and comes last.
func Rules(cat *catalog.Catalog, s Settings) []Rule {
	return []Rule{
		feedingComplete(cat),
		dailyTasksComplete(),
		overdueFeeding(cat, s),
		inactivityWarning(s),
		emergencyStatus(),
		needsAttention(s),
		visitorMode(),
		systemHealth(cat, s),
	}
}

func ref(domain string, s dog.Suffix) catalog.EntityRef {
	return catalog.EntityRef{Domain: domain, Suffix: s}
}

func feedingComplete(cat *catalog.Catalog) Rule {
	meals := cat.EssentialMeals()

	var inputs []catalog.EntityRef
	for _, m := range meals {
		inputs = append(inputs, ref(hass.EntityInputBoolean, m.Fed), ref(hass.EntityInputDateTime, m.Scheduled))
	}

	return Rule{
		Sensor:   dog.FeedingComplete,
		Interval: 10 * time.Minute,
		inputs:   inputs,
		evaluate: func(env Env) (Assessment, error) {
			attrs := map[string]any{}
			completed := 0
			var next *catalog.Meal

			for i, m := range meals {
				fed := env.boolean(m.Fed)
				attrs[m.Key] = fed
				if fed {
					completed++
				} else if next == nil {
					next = &meals[i]
				}
			}

			total := len(meals)
			attrs["completed"] = completed
			attrs["total"] = total
			attrs["completion_percentage"] = round1(float64(completed) / float64(total) * 100)

			if next != nil {
				scheduled, ok := env.clock(next.Scheduled)
				if !ok {
					scheduled = next.Default
				}
				attrs["next_meal"] = next.Label
				attrs["next_meal_time"] = scheduled.String()
			}

			return Assessment{On: completed == total, Attributes: attrs}, nil
		},
	}
}

func dailyTasksComplete() Rule {
	tasks := []struct {
		key    string
		suffix dog.Suffix
	}{
		{"feeding_morning", dog.FeedingMorning},
		{"outside", dog.Outside},
		{"poop_done", dog.PoopDone},
	}

	inputs := make([]catalog.EntityRef, 0, len(tasks))
	for _, t := range tasks {
		inputs = append(inputs, ref(hass.EntityInputBoolean, t.suffix))
	}

	return Rule{
		Sensor:   dog.DailyTasksComplete,
		Interval: 10 * time.Minute,
		inputs:   inputs,
		evaluate: func(env Env) (Assessment, error) {
			attrs := map[string]any{}
			completed := 0
			var open []string

			for _, t := range tasks {
				done := env.boolean(t.suffix)
				attrs[t.key] = done
				if done {
					completed++
				} else {
					open = append(open, t.key)
				}
			}

			attrs["completed"] = completed
			attrs["total"] = len(tasks)
			attrs["open_tasks"] = open

			return Assessment{On: completed == len(tasks), Attributes: attrs}, nil
		},
	}
}

func overdueFeeding(cat *catalog.Catalog, s Settings) Rule {
	meals := cat.Meals()

	var inputs []catalog.EntityRef
	for _, m := range meals {
		inputs = append(inputs, ref(hass.EntityInputBoolean, m.Fed), ref(hass.EntityInputDateTime, m.Scheduled))
	}

	return Rule{
		Sensor:   dog.OverdueFeeding,
		Interval: 5 * time.Minute,
		FailSafe: true,
		inputs:   inputs,
		evaluate: func(env Env) (Assessment, error) {
			var overdue []string
			details := map[string]any{}
			worst := SeverityNone
			maxMinutes := 0.0

			for _, m := range meals {
				if env.boolean(m.Fed) {
					continue
				}

				scheduled, ok := env.clock(m.Scheduled)
				if !ok {
					scheduled = m.Default
				}

				deadline := scheduled.On(env.Now).Add(s.FeedingGrace)
				if !env.Now.After(deadline) {
					continue
				}

				minutes := env.Now.Sub(deadline).Minutes()
				severity := OverdueSeverity(minutes)

				overdue = append(overdue, m.Key)
				details[m.Key] = map[string]any{
					"meal":            m.Label,
					"scheduled":       scheduled.String(),
					"minutes_overdue": int(minutes),
					"severity":        string(severity),
				}
				if severity.rank() > worst.rank() {
					worst = severity
				}
				maxMinutes = max(maxMinutes, minutes)
			}

			return Assessment{
				On: len(overdue) > 0,
				Attributes: map[string]any{
					"overdue_meals":   overdue,
					"details":         details,
					"severity":        string(worst),
					"minutes_overdue": int(maxMinutes),
					"grace_minutes":   int(s.FeedingGrace.Minutes()),
				},
			}, nil
		},
	}
}

func inactivityWarning(s Settings) Rule {
	activities := []struct {
		key       string
		suffix    dog.Suffix
		threshold time.Duration
	}{
		{"outside", dog.LastOutside, s.Inactivity.Outside},
		{"walk", dog.LastWalk, s.Inactivity.Walk},
		{"play", dog.LastPlay, s.Inactivity.Play},
		{"activity", dog.LastActivity, s.Inactivity.Activity},
	}

	inputs := make([]catalog.EntityRef, 0, len(activities))
	for _, a := range activities {
		inputs = append(inputs, ref(hass.EntityInputDateTime, a.suffix))
	}

	return Rule{
		Sensor:   dog.InactivityWarning,
		Interval: 15 * time.Minute,
		FailSafe: true,
		inputs:   inputs,
		evaluate: func(env Env) (Assessment, error) {
			attrs := map[string]any{}
			var warnings []string
			hoursOverdue := 0.0

			for _, a := range activities {
				thresholdHours := a.threshold.Hours()
				attrs[a.key+"_threshold_hours"] = thresholdHours

				since := NeverHours
				overdueBy := NeverHours
				if last, ok := env.timestamp(a.suffix); ok {
					since = round1(env.Now.Sub(last).Hours())
					overdueBy = round1(since - thresholdHours)
				}
				attrs[a.key+"_hours_since"] = since

				if since > thresholdHours {
					warnings = append(warnings, a.key)
					hoursOverdue = max(hoursOverdue, overdueBy)
				}
			}

			attrs["warnings"] = warnings
			attrs["hours_overdue"] = hoursOverdue

			return Assessment{On: len(warnings) > 0, Attributes: attrs}, nil
		},
	}
}

// Emergency types, in priority order.
const (
	EmergencyManual = "Manual Emergency"
	EmergencyHealth = "Health Emergency"
	EmergencyLevel  = "Emergency Level"
	EmergencyNone   = "None"
)

func emergencyStatus() Rule {
	return Rule{
		Sensor:   dog.EmergencyStatus,
		Interval: 5 * time.Minute,
		FailSafe: true,
		inputs: []catalog.EntityRef{
			ref(hass.EntityInputBoolean, dog.EmergencyMode),
			ref(hass.EntityInputSelect, dog.HealthStatus),
			ref(hass.EntityInputSelect, dog.EmergencyLevel),
			ref(hass.EntityInputText, dog.EmergencyContact),
			ref(hass.EntityInputText, dog.VetContact),
		},
		evaluate: func(env Env) (Assessment, error) {
			manual := env.boolean(dog.EmergencyMode)
			health := env.selected(dog.HealthStatus)
			level := env.selected(dog.EmergencyLevel)

			kind, severity, contactVet, action := EmergencyNone, "None", false, "Keine Maßnahmen erforderlich"
			switch {
			case manual:
				kind, severity, contactVet, action = EmergencyManual, "Critical", true, "Notfallmodus aktiv: sofort Tierarzt kontaktieren"
			case health == catalog.HealthEmergency:
				kind, severity, contactVet, action = EmergencyHealth, "Critical", true, "Gesundheitsnotfall: sofort Tierarzt kontaktieren"
			case level == catalog.LevelCritical:
				kind, severity, contactVet, action = EmergencyLevel, "Critical", true, "Kritische Notfallstufe: sofort Tierarzt kontaktieren"
			case level == catalog.LevelUrgent:
				kind, severity, contactVet, action = EmergencyLevel, "High", true, "Dringende Notfallstufe: zeitnah Tierarzt kontaktieren"
			}

			return Assessment{
				On: kind != EmergencyNone,
				Attributes: map[string]any{
					"emergency_type":     kind,
					"severity":           severity,
					"contact_vet":        contactVet,
					"recommended_action": action,
					"manual_emergency":   manual,
					"health_status":      health,
					"emergency_level":    level,
					"emergency_contact":  env.text(dog.EmergencyContact),
					"vet_contact":        env.text(dog.VetContact),
				},
			}, nil
		},
	}
}

func needsAttention(s Settings) Rule {
	return Rule{
		Sensor:   dog.NeedsAttention,
		Interval: 5 * time.Minute,
		FailSafe: true,
		inputs: []catalog.EntityRef{
			ref(hass.EntityInputBoolean, dog.EmergencyMode),
			ref(hass.EntityInputSelect, dog.HealthStatus),
			ref(hass.EntityInputSelect, dog.Mood),
			ref(hass.EntityBinarySensor, dog.OverdueFeeding),
			ref(hass.EntityBinarySensor, dog.DailyTasksComplete),
			ref(hass.EntityInputDateTime, dog.LastActivity),
			ref(hass.EntityInputBoolean, dog.MedicationGiven),
			ref(hass.EntityInputText, dog.MedicationNotes),
			ref(hass.EntityInputBoolean, dog.VisitorMode),
		},
		evaluate: func(env Env) (Assessment, error) {
			type reason struct {
				text     string
				priority Severity
			}
			var reasons []reason
			add := func(text string, p Severity) {
				reasons = append(reasons, reason{text: text, priority: p})
			}

			if env.boolean(dog.EmergencyMode) {
				add("Notfallmodus aktiv", SeverityCritical)
			}

			switch health := env.selected(dog.HealthStatus); health {
			case catalog.HealthEmergency:
				add("Gesundheitsstatus: "+health, SeverityCritical)
			case catalog.HealthSick:
				add("Gesundheitsstatus: "+health, SeverityHigh)
			case catalog.HealthUnwell:
				add("Gesundheitsstatus: "+health, SeverityMedium)
			}

			switch mood := env.selected(dog.Mood); mood {
			case catalog.MoodStressed, catalog.MoodAnxious:
				add("Stimmung: "+mood, SeverityMedium)
			}

			if env.on(hass.EntityBinarySensor, dog.OverdueFeeding) {
				add("Fütterung überfällig", SeverityHigh)
			}

			tasks := env.value(hass.EntityBinarySensor, dog.DailyTasksComplete)
			if tasks == hass.BooleanOffValue && !env.Now.Before(s.TasksDue.On(env.Now)) {
				add("Tagesaufgaben noch offen", SeverityLow)
			}

			if last, ok := env.timestamp(dog.LastActivity); ok {
				if hours := env.Now.Sub(last).Hours(); hours > s.Inactivity.Activity.Hours() {
					add(fmt.Sprintf("Keine Aktivität seit %.0f Stunden", hours), SeverityMedium)
				}
			} else {
				add("Keine Aktivität erfasst", SeverityLow)
			}

			if env.text(dog.MedicationNotes) != "" && !env.boolean(dog.MedicationGiven) {
				add("Medikament noch nicht gegeben", SeverityMedium)
			}

			visitor := env.boolean(dog.VisitorMode)
			if visitor {
				critical := reasons[:0]
				for _, r := range reasons {
					if r.priority == SeverityCritical {
						critical = append(critical, r)
					}
				}
				reasons = critical
			}

			priority := SeverityNone
			texts := make([]string, 0, len(reasons))
			for _, r := range reasons {
				texts = append(texts, r.text)
				if r.priority.rank() > priority.rank() {
					priority = r.priority
				}
			}

			return Assessment{
				On: len(reasons) > 0,
				Attributes: map[string]any{
					"reasons":      texts,
					"reason_count": len(texts),
					"priority":     string(priority),
					"visitor_mode": visitor,
				},
			}, nil
		},
	}
}

func visitorMode() Rule {
	return Rule{
		Sensor:   dog.VisitorModeActive,
		Interval: 30 * time.Minute,
		inputs: []catalog.EntityRef{
			ref(hass.EntityInputBoolean, dog.VisitorMode),
			ref(hass.EntityInputText, dog.VisitorName),
			ref(hass.EntityInputDateTime, dog.VisitorStart),
		},
		evaluate: func(env Env) (Assessment, error) {
			active := env.boolean(dog.VisitorMode)
			attrs := map[string]any{
				"visitor_name": env.text(dog.VisitorName),
			}
			if start, ok := env.timestamp(dog.VisitorStart); ok && active {
				attrs["visitor_start"] = start.Format(time.RFC3339)
				attrs["hours_active"] = round1(env.Now.Sub(start).Hours())
			}
			return Assessment{On: active, Attributes: attrs}, nil
		},
	}
}

func systemHealth(cat *catalog.Catalog, s Settings) Rule {
	var inputs []catalog.EntityRef
	for _, sensor := range cat.Sensors() {
		if sensor.Suffix == dog.SystemHealth {
			continue
		}
		inputs = append(inputs, ref(hass.EntityBinarySensor, sensor.Suffix))
	}

	return Rule{
		Sensor:   dog.SystemHealth,
		Interval: 60 * time.Minute,
		FailSafe: true,
		inputs:   inputs,
		evaluate: func(env Env) (Assessment, error) {
			var missing, unavailable, failing, stale []string

			for _, in := range inputs {
				id := in.EntityID(env.Dog.ID)
				st := env.States.State(id)

				switch {
				case st == nil:
					missing = append(missing, id)
				case hass.IsPlaceholder(st.State):
					unavailable = append(unavailable, id)
				case hasError(st):
					failing = append(failing, id)
				case !st.LastUpdated.IsZero() && env.Now.Sub(st.LastUpdated) > s.StaleAfter:
					stale = append(stale, id)
				}
			}

			total := len(inputs)
			unhealthy := len(missing) + len(unavailable) + len(failing) + len(stale)
			healthy := total - unhealthy

			problems := make([]string, 0, unhealthy)
			problems = append(problems, missing...)
			problems = append(problems, unavailable...)
			problems = append(problems, failing...)
			problems = append(problems, stale...)
			sort.Strings(problems)

			return Assessment{
				On: unhealthy > 0,
				Attributes: map[string]any{
					"health_score":        round1(float64(healthy) / float64(total) * 100),
					"healthy":             healthy,
					"total":               total,
					"problems":            problems,
					"missing":             missing,
					"unavailable":         unavailable,
					"errors":              failing,
					"stale":               stale,
					"stale_after_minutes": int(s.StaleAfter.Minutes()),
				},
			}, nil
		},
	}
}

func hasError(st *hass.State) bool {
	if st.StringAttr("status") == "error" {
		return true
	}
	v, ok := st.Attributes["error"]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}
