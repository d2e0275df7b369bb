package catalog

import (
	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/dog"
)

// Health status options.
const (
	HealthExcellent = "Ausgezeichnet"
	HealthGood      = "Gut"
	HealthNormal    = "Normal"
	HealthUnwell    = "Unwohl"
	HealthSick      = "Krank"
	HealthEmergency = "Notfall"
)

// Mood options.
const (
	MoodHappy    = "Glücklich"
	MoodRelaxed  = "Entspannt"
	MoodPlayful  = "Verspielt"
	MoodTired    = "Müde"
	MoodStressed = "Gestresst"
	MoodAnxious  = "Ängstlich"
)

// Emergency level options.
const (
	LevelNormal    = "Normal"
	LevelAttention = "Aufmerksamkeit"
	LevelWarning   = "Warnung"
	LevelUrgent    = "Dringend"
	LevelCritical  = "Kritisch"
)

var (
	HealthOptions    = []string{HealthExcellent, HealthGood, HealthNormal, HealthUnwell, HealthSick, HealthEmergency}
	MoodOptions      = []string{MoodHappy, MoodRelaxed, MoodPlayful, MoodTired, MoodStressed, MoodAnxious}
	EmergencyOptions = []string{LevelNormal, LevelAttention, LevelWarning, LevelUrgent, LevelCritical}
)

func boolean(s dog.Suffix, label, icon string) EntitySpec {
	return EntitySpec{Suffix: s, Label: label, Domain: hass.EntityInputBoolean, Icon: icon,
		Params: Params{"initial": false}}
}

func counter(s dog.Suffix, label, icon string) EntitySpec {
	return EntitySpec{Suffix: s, Label: label, Domain: hass.EntityCounter, Icon: icon,
		Params: Params{"initial": 0, "step": 1, "minimum": 0, "maximum": 999999, "restore": true}}
}

func clock(s dog.Suffix, label, icon string, initial Clock) EntitySpec {
	return EntitySpec{Suffix: s, Label: label, Domain: hass.EntityInputDateTime, Icon: icon,
		Params: Params{"has_date": false, "has_time": true, "initial": initial.String()}}
}

func stamp(s dog.Suffix, label, icon string) EntitySpec {
	return EntitySpec{Suffix: s, Label: label, Domain: hass.EntityInputDateTime, Icon: icon,
		Params: Params{"has_date": true, "has_time": true}}
}

func text(s dog.Suffix, label, icon string, maxLen int) EntitySpec {
	return EntitySpec{Suffix: s, Label: label, Domain: hass.EntityInputText, Icon: icon,
		Params: Params{"min": 0, "max": maxLen, "mode": "text"}}
}

func number(s dog.Suffix, label, icon string, min, max, step, initial float64, unit string) EntitySpec {
	p := Params{"min": min, "max": max, "step": step, "initial": initial, "mode": "box"}
	if unit != "" {
		p["unit_of_measurement"] = unit
	}
	return EntitySpec{Suffix: s, Label: label, Domain: hass.EntityInputNumber, Icon: icon, Params: p}
}

func choice(s dog.Suffix, label, icon string, options []string, initial string) EntitySpec {
	return EntitySpec{Suffix: s, Label: label, Domain: hass.EntityInputSelect, Icon: icon,
		Params: Params{"options": append([]string(nil), options...), "initial": initial}}
}

func button(action, label, icon string) EntitySpec {
	return EntitySpec{Suffix: dog.Suffix(action), Label: label, Domain: hass.EntityInputButton, Icon: icon,
		Params: Params{}}
}

func booleans() []EntitySpec {
	return []EntitySpec{
		boolean(dog.FeedingMorning, "Frühstück", "mdi:food-croissant"),
		boolean(dog.FeedingLunch, "Mittagessen", "mdi:food"),
		boolean(dog.FeedingEvening, "Abendessen", "mdi:food-variant"),
		boolean(dog.FeedingSnack, "Leckerli", "mdi:cookie"),
		boolean(dog.Outside, "War draußen", "mdi:door-open"),
		boolean(dog.PoopDone, "Geschäft gemacht", "mdi:emoticon-poop"),
		boolean(dog.WalkInProgress, "Gassi läuft", "mdi:walk"),
		boolean(dog.VisitorMode, "Besuchermodus", "mdi:account-group"),
		boolean(dog.EmergencyMode, "Notfallmodus", "mdi:alert-octagon"),
		boolean(dog.MedicationGiven, "Medikament gegeben", "mdi:pill"),
		boolean(dog.AutoReminders, "Automatische Erinnerungen", "mdi:bell-ring"),
	}
}

func counters() []EntitySpec {
	return []EntitySpec{
		counter(dog.FeedingMorningCount, "Frühstück Anzahl", "mdi:counter"),
		counter(dog.FeedingLunchCount, "Mittagessen Anzahl", "mdi:counter"),
		counter(dog.FeedingEveningCount, "Abendessen Anzahl", "mdi:counter"),
		counter(dog.FeedingSnackCount, "Leckerli Anzahl", "mdi:counter"),
		counter(dog.OutsideCount, "Draußen Anzahl", "mdi:counter"),
		counter(dog.WalkCount, "Gassi Anzahl", "mdi:counter"),
		counter(dog.PlayCount, "Spielzeit Anzahl", "mdi:counter"),
		counter(dog.TrainingCount, "Training Anzahl", "mdi:counter"),
		counter(dog.PoopCount, "Geschäft Anzahl", "mdi:counter"),
		counter(dog.MedicationCount, "Medikamente Anzahl", "mdi:counter"),
		counter(dog.VetVisitCount, "Tierarztbesuche", "mdi:hospital-box"),
		counter(dog.EmergencyCount, "Notfälle", "mdi:alert"),
	}
}

func datetimes() []EntitySpec {
	specs := make([]EntitySpec, 0, 18)
	for _, m := range meals() {
		specs = append(specs, clock(m.Scheduled, m.Label+" Zeit", "mdi:clock-outline", m.Default))
	}
	for _, m := range meals() {
		specs = append(specs, stamp(m.Last, "Letztes "+m.Label, "mdi:history"))
	}

	return append(specs,
		stamp(dog.LastOutside, "Zuletzt draußen", "mdi:door-open"),
		stamp(dog.LastWalk, "Letzter Spaziergang", "mdi:walk"),
		stamp(dog.LastPlay, "Letztes Spielen", "mdi:tennis-ball"),
		stamp(dog.LastTraining, "Letztes Training", "mdi:school"),
		stamp(dog.LastPoop, "Letztes Geschäft", "mdi:emoticon-poop"),
		stamp(dog.LastMedication, "Letzte Medikation", "mdi:pill"),
		stamp(dog.LastVetVisit, "Letzter Tierarztbesuch", "mdi:hospital-box"),
		stamp(dog.LastActivity, "Letzte Aktivität", "mdi:run"),
		stamp(dog.VisitorStart, "Besuch seit", "mdi:account-clock"),
		stamp(dog.NextVetAppointment, "Nächster Tierarzttermin", "mdi:calendar-heart"),
	)
}

func texts() []EntitySpec {
	return []EntitySpec{
		text(dog.Notes, "Notizen", "mdi:note-text", 255),
		text(dog.DailyNotes, "Tagesnotizen", "mdi:calendar-text", 255),
		text(dog.HealthNotes, "Gesundheitsnotizen", "mdi:medical-bag", 255),
		text(dog.MedicationNotes, "Medikamente", "mdi:pill", 255),
		text(dog.VetContact, "Tierarzt Kontakt", "mdi:phone", 255),
		text(dog.EmergencyContact, "Notfallkontakt", "mdi:phone-alert", 255),
		text(dog.VisitorName, "Besucher", "mdi:account", 100),
		text(dog.LastActivityNote, "Letzte Aktivität Notiz", "mdi:note", 255),
	}
}

func numbers() []EntitySpec {
	return []EntitySpec{
		number(dog.Weight, "Gewicht", "mdi:scale", 0, 100, 0.1, 10, "kg"),
		number(dog.DailyFoodAmount, "Tägliche Futtermenge", "mdi:bowl", 0, 2000, 10, 400, "g"),
		number(dog.AgeYears, "Alter", "mdi:cake-variant", 0, 30, 0.5, 1, "Jahre"),
		number(dog.HealthScore, "Gesundheitswert", "mdi:heart-pulse", 0, 10, 1, 8, ""),
		number(dog.HappinessScore, "Glückswert", "mdi:emoticon-happy", 0, 10, 1, 8, ""),
		number(dog.WalkDurationTarget, "Gassi Zielzeit", "mdi:timer", 0, 300, 5, 60, "min"),
		number(dog.Temperature, "Körpertemperatur", "mdi:thermometer", 35, 43, 0.1, 38.5, "°C"),
	}
}

func selects() []EntitySpec {
	return []EntitySpec{
		choice(dog.HealthStatus, "Gesundheitsstatus", "mdi:heart-pulse", HealthOptions, HealthGood),
		choice(dog.Mood, "Stimmung", "mdi:emoticon", MoodOptions, MoodHappy),
		choice(dog.EnergyLevel, "Energielevel", "mdi:lightning-bolt",
			[]string{"Sehr hoch", "Hoch", "Normal", "Niedrig", "Sehr niedrig"}, "Normal"),
		choice(dog.EmergencyLevel, "Notfallstufe", "mdi:alert", EmergencyOptions, LevelNormal),
		choice(dog.ActivityLevel, "Aktivitätslevel", "mdi:run",
			[]string{"Sehr aktiv", "Aktiv", "Normal", "Ruhig", "Sehr ruhig"}, "Normal"),
		choice(dog.SizeCategory, "Größe", "mdi:dog",
			[]string{"Klein", "Mittel", "Groß", "Sehr groß"}, "Mittel"),
		choice(dog.TrainingLevel, "Trainingsstand", "mdi:school",
			[]string{"Anfänger", "Fortgeschritten", "Gut erzogen", "Experte"}, "Anfänger"),
	}
}

func buttons() []EntitySpec {
	specs := make([]EntitySpec, 0, 16)
	for _, m := range meals() {
		specs = append(specs, button(m.ActionName(), m.Label+" geben", "mdi:food-drumstick"))
	}

	return append(specs,
		button("outside", "War draußen", "mdi:door-open"),
		button("poop", "Geschäft gemacht", "mdi:emoticon-poop"),
		button("walk_start", "Gassi starten", "mdi:walk"),
		button("walk_end", "Gassi beenden", "mdi:home-import-outline"),
		button("play", "Gespielt", "mdi:tennis-ball"),
		button("training", "Trainiert", "mdi:school"),
		button("medication", "Medikament gegeben", "mdi:pill"),
		button("vet_visit", "Tierarztbesuch", "mdi:hospital-box"),
		button("emergency", "Notfall", "mdi:alert-octagon"),
		button("visitor_on", "Besuch beginnt", "mdi:account-plus"),
		button("visitor_off", "Besuch endet", "mdi:account-minus"),
		button("daily_reset", "Tagesreset", "mdi:restore"),
	)
}

func sensors() []SensorSpec {
	return []SensorSpec{
		{Suffix: dog.FeedingComplete, Label: "Fütterung komplett", Icon: "mdi:food-drumstick"},
		{Suffix: dog.DailyTasksComplete, Label: "Tagesaufgaben erledigt", Icon: "mdi:check-all"},
		{Suffix: dog.OverdueFeeding, Label: "Fütterung überfällig", Icon: "mdi:food-off", DeviceClass: "problem"},
		{Suffix: dog.InactivityWarning, Label: "Inaktivitätswarnung", Icon: "mdi:sleep", DeviceClass: "problem"},
		{Suffix: dog.EmergencyStatus, Label: "Notfallstatus", Icon: "mdi:alert-octagon", DeviceClass: "safety"},
		{Suffix: dog.NeedsAttention, Label: "Braucht Aufmerksamkeit", Icon: "mdi:alert-circle", DeviceClass: "problem"},
		{Suffix: dog.SystemHealth, Label: "Systemstatus", Icon: "mdi:heart-cog", DeviceClass: "problem"},
		{Suffix: dog.VisitorModeActive, Label: "Besuchermodus aktiv", Icon: "mdi:account-group", DeviceClass: "presence"},
	}
}
