package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jkaflik/hundesystem/internal/dog"
)

// Meal ties together the entities tracking one meal of the day.
type Meal struct {
	Key       string
	Label     string
	Essential bool
	Default   Clock

	Fed       dog.Suffix // input_boolean
	Count     dog.Suffix // counter
	Scheduled dog.Suffix // input_datetime, time only
	Last      dog.Suffix // input_datetime
}

// ActionName is the name of the action feeding this meal.
func (m Meal) ActionName() string {
	return "feed_" + m.Key
}

func meals() []Meal {
	return []Meal{
		{
			Key: "morning", Label: "Frühstück", Essential: true, Default: Clock{Hour: 7},
			Fed: dog.FeedingMorning, Count: dog.FeedingMorningCount,
			Scheduled: dog.FeedingMorningTime, Last: dog.LastFeedingMorning,
		},
		{
			Key: "lunch", Label: "Mittagessen", Essential: true, Default: Clock{Hour: 12},
			Fed: dog.FeedingLunch, Count: dog.FeedingLunchCount,
			Scheduled: dog.FeedingLunchTime, Last: dog.LastFeedingLunch,
		},
		{
			Key: "evening", Label: "Abendessen", Essential: true, Default: Clock{Hour: 18},
			Fed: dog.FeedingEvening, Count: dog.FeedingEveningCount,
			Scheduled: dog.FeedingEveningTime, Last: dog.LastFeedingEvening,
		},
		{
			Key: "snack", Label: "Leckerli", Default: Clock{Hour: 15},
			Fed: dog.FeedingSnack, Count: dog.FeedingSnackCount,
			Scheduled: dog.FeedingSnackTime, Last: dog.LastFeedingSnack,
		},
	}
}

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, fmt.Errorf("invalid time of day %q", s)
	}

	limits := []int{23, 59, 59}
	values := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return Clock{}, fmt.Errorf("invalid time of day %q", s)
		}
		values[i] = v
	}

	return Clock{Hour: values[0], Minute: values[1], Second: values[2]}, nil
}

// On returns the clock time on the day of t, in t's location.
func (c Clock) On(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, c.Second, 0, t.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}
