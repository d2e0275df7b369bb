package dog

// Suffix names one kind of per-dog entity.
type Suffix string

// input_boolean
const (
	FeedingMorning  Suffix = "feeding_morning"
	FeedingLunch    Suffix = "feeding_lunch"
	FeedingEvening  Suffix = "feeding_evening"
	FeedingSnack    Suffix = "feeding_snack"
	Outside         Suffix = "outside"
	PoopDone        Suffix = "poop_done"
	WalkInProgress  Suffix = "walk_in_progress"
	VisitorMode     Suffix = "visitor_mode"
	EmergencyMode   Suffix = "emergency_mode"
	MedicationGiven Suffix = "medication_given"
	AutoReminders   Suffix = "auto_reminders"
)

// counter
const (
	FeedingMorningCount Suffix = "feeding_morning_count"
	FeedingLunchCount   Suffix = "feeding_lunch_count"
	FeedingEveningCount Suffix = "feeding_evening_count"
	FeedingSnackCount   Suffix = "feeding_snack_count"
	OutsideCount        Suffix = "outside_count"
	WalkCount           Suffix = "walk_count"
	PlayCount           Suffix = "play_count"
	TrainingCount       Suffix = "training_count"
	PoopCount           Suffix = "poop_count"
	MedicationCount     Suffix = "medication_count"
	VetVisitCount       Suffix = "vet_visit_count"
	EmergencyCount      Suffix = "emergency_count"
)

// input_datetime
const (
	FeedingMorningTime Suffix = "feeding_morning_time"
	FeedingLunchTime   Suffix = "feeding_lunch_time"
	FeedingEveningTime Suffix = "feeding_evening_time"
	FeedingSnackTime   Suffix = "feeding_snack_time"
	LastFeedingMorning Suffix = "last_feeding_morning"
	LastFeedingLunch   Suffix = "last_feeding_lunch"
	LastFeedingEvening Suffix = "last_feeding_evening"
	LastFeedingSnack   Suffix = "last_feeding_snack"
	LastOutside        Suffix = "last_outside"
	LastWalk           Suffix = "last_walk"
	LastPlay           Suffix = "last_play"
	LastTraining       Suffix = "last_training"
	LastPoop           Suffix = "last_poop"
	LastMedication     Suffix = "last_medication"
	LastVetVisit       Suffix = "last_vet_visit"
	LastActivity       Suffix = "last_activity"
	VisitorStart       Suffix = "visitor_start"
	NextVetAppointment Suffix = "next_vet_appointment"
)

// input_text
const (
	Notes            Suffix = "notes"
	DailyNotes       Suffix = "daily_notes"
	HealthNotes      Suffix = "health_notes"
	MedicationNotes  Suffix = "medication_notes"
	VetContact       Suffix = "vet_contact"
	EmergencyContact Suffix = "emergency_contact"
	VisitorName      Suffix = "visitor_name"
	LastActivityNote Suffix = "last_activity_note"
)

// input_number
const (
	Weight             Suffix = "weight"
	DailyFoodAmount    Suffix = "daily_food_amount"
	AgeYears           Suffix = "age_years"
	HealthScore        Suffix = "health_score"
	HappinessScore     Suffix = "happiness_score"
	WalkDurationTarget Suffix = "walk_duration_target"
	Temperature        Suffix = "temperature"
)

// input_select
const (
	HealthStatus   Suffix = "health_status"
	Mood           Suffix = "mood"
	EnergyLevel    Suffix = "energy_level"
	EmergencyLevel Suffix = "emergency_level"
	ActivityLevel  Suffix = "activity_level"
	SizeCategory   Suffix = "size_category"
	TrainingLevel  Suffix = "training_level"
)

// binary_sensor, published by the status engine
const (
	FeedingComplete    Suffix = "feeding_complete"
	DailyTasksComplete Suffix = "daily_tasks_complete"
	OverdueFeeding     Suffix = "overdue_feeding"
	InactivityWarning  Suffix = "inactivity_warning"
	EmergencyStatus    Suffix = "emergency_status"
	NeedsAttention     Suffix = "needs_attention"
	SystemHealth       Suffix = "system_health"
	VisitorModeActive  Suffix = "visitor_mode_active"
)
