// Package action implements the user-triggered operations of a dog: feeding,
// walks, health events, visitor mode and the daily reset.
package action

import (
	"fmt"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/notify"
)

// Op is the kind of mutation a step performs.
type Op int

const (
	TurnOn Op = iota
	TurnOff
	Increment
	ResetCounter
	StampNow
	SelectOption
	SetText
)

func (o Op) String() string {
	switch o {
	case TurnOn:
		return "turn_on"
	case TurnOff:
		return "turn_off"
	case Increment:
		return "increment"
	case ResetCounter:
		return "reset"
	case StampNow:
		return "stamp_now"
	case SelectOption:
		return "select_option"
	case SetText:
		return "set_text"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Domain returns the helper domain the op works on.
func (o Op) Domain() string {
	switch o {
	case TurnOn, TurnOff:
		return hass.EntityInputBoolean
	case Increment, ResetCounter:
		return hass.EntityCounter
	case StampNow:
		return hass.EntityInputDateTime
	case SelectOption:
		return hass.EntityInputSelect
	default:
		return hass.EntityInputText
	}
}

// Step is one entity mutation.
type Step struct {
	Op     Op
	Suffix dog.Suffix
	Value  string
}

// FollowUp is a question sent after an action succeeded.
type FollowUp struct {
	Title   string
	Message string
	Replies []FollowUpReply
}

type FollowUpReply struct {
	Action string
	Title  string
}

// Action is one named operation. Name matches the input_button object ID suffix.
type Action struct {
	Name      string
	Label     string
	Steps     []Step
	FollowUp  *FollowUp
	Emergency bool
}

func on(s dog.Suffix) Step    { return Step{Op: TurnOn, Suffix: s} }
func off(s dog.Suffix) Step   { return Step{Op: TurnOff, Suffix: s} }
func inc(s dog.Suffix) Step   { return Step{Op: Increment, Suffix: s} }
func reset(s dog.Suffix) Step { return Step{Op: ResetCounter, Suffix: s} }
func stamp(s dog.Suffix) Step { return Step{Op: StampNow, Suffix: s} }
func note(s dog.Suffix, v string) Step {
	return Step{Op: SetText, Suffix: s, Value: v}
}

// Feed builds the action feeding one meal.
func Feed(m catalog.Meal) Action {
	return Action{
		Name:  m.ActionName(),
		Label: m.Label + " gegeben",
		Steps: []Step{
			on(m.Fed),
			inc(m.Count),
			stamp(m.Last),
			stamp(dog.LastActivity),
			note(dog.LastActivityNote, m.Label+" gegeben"),
		},
	}
}

// Reply actions offered in follow-up notifications.
const (
	ReplyPoopYes    = "POOP_YES"
	ReplyPoopNo     = "POOP_NO"
	ReplyOutsideYes = "OUTSIDE_YES"
)

// All returns every action of the catalog.
func All(cat *catalog.Catalog) []Action {
	var actions []Action
	for _, m := range cat.Meals() {
		actions = append(actions, Feed(m))
	}

	daily := []Step{
		off(dog.Outside),
		off(dog.PoopDone),
		off(dog.MedicationGiven),
		off(dog.WalkInProgress),
	}
	for _, m := range cat.Meals() {
		daily = append(daily, off(m.Fed), reset(m.Count))
	}
	daily = append(daily,
		reset(dog.OutsideCount),
		reset(dog.WalkCount),
		reset(dog.PlayCount),
		reset(dog.TrainingCount),
		reset(dog.PoopCount),
		note(dog.DailyNotes, ""),
	)

	return append(actions,
		Action{
			Name:  "outside",
			Label: "War draußen",
			Steps: []Step{on(dog.Outside), inc(dog.OutsideCount), stamp(dog.LastOutside), stamp(dog.LastActivity), note(dog.LastActivityNote, "Draußen")},
			FollowUp: &FollowUp{
				Title:   "%s war draußen",
				Message: "Hat %s sein Geschäft gemacht?",
				Replies: []FollowUpReply{{Action: ReplyPoopYes, Title: "Ja"}, {Action: ReplyPoopNo, Title: "Nein"}},
			},
		},
		Action{
			Name:  "poop",
			Label: "Geschäft gemacht",
			Steps: []Step{on(dog.PoopDone), inc(dog.PoopCount), stamp(dog.LastPoop), stamp(dog.LastActivity)},
		},
		Action{
			Name:  "walk_start",
			Label: "Gassi gestartet",
			Steps: []Step{on(dog.WalkInProgress), stamp(dog.LastActivity), note(dog.LastActivityNote, "Gassi unterwegs")},
		},
		Action{
			Name:  "walk_end",
			Label: "Gassi beendet",
			Steps: []Step{
				off(dog.WalkInProgress), inc(dog.WalkCount), stamp(dog.LastWalk),
				on(dog.Outside), inc(dog.OutsideCount), stamp(dog.LastOutside),
				stamp(dog.LastActivity), note(dog.LastActivityNote, "Gassi beendet"),
			},
		},
		Action{
			Name:  "play",
			Label: "Gespielt",
			Steps: []Step{inc(dog.PlayCount), stamp(dog.LastPlay), stamp(dog.LastActivity), note(dog.LastActivityNote, "Gespielt")},
		},
		Action{
			Name:  "training",
			Label: "Trainiert",
			Steps: []Step{inc(dog.TrainingCount), stamp(dog.LastTraining), stamp(dog.LastActivity), note(dog.LastActivityNote, "Training")},
		},
		Action{
			Name:  "medication",
			Label: "Medikament gegeben",
			Steps: []Step{on(dog.MedicationGiven), inc(dog.MedicationCount), stamp(dog.LastMedication)},
		},
		Action{
			Name:  "vet_visit",
			Label: "Tierarztbesuch",
			Steps: []Step{inc(dog.VetVisitCount), stamp(dog.LastVetVisit)},
		},
		Action{
			Name:  "emergency",
			Label: "Notfall",
			Steps: []Step{
				on(dog.EmergencyMode), inc(dog.EmergencyCount),
				{Op: SelectOption, Suffix: dog.EmergencyLevel, Value: catalog.LevelCritical},
			},
			Emergency: true,
		},
		Action{
			Name:  "visitor_on",
			Label: "Besuch beginnt",
			Steps: []Step{on(dog.VisitorMode), stamp(dog.VisitorStart)},
		},
		Action{
			Name:  "visitor_off",
			Label: "Besuch endet",
			Steps: []Step{off(dog.VisitorMode), note(dog.VisitorName, "")},
		},
		Action{
			Name:  "daily_reset",
			Label: "Tagesreset",
			Steps: daily,
		},
	)
}

func (f *FollowUp) message(d dog.Dog, tag string) notify.Message {
	m := notify.Message{
		Title:   fmt.Sprintf(f.Title, d.Name),
		Message: fmt.Sprintf(f.Message, d.Name),
		Tag:     tag,
	}
	for _, r := range f.Replies {
		m.Replies = append(m.Replies, notify.Reply{Action: notify.ReplyAction(r.Action, d.ID), Title: r.Title})
	}
	return m
}
