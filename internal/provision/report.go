package provision

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jkaflik/hundesystem/internal/dog"
)

// Report is the human-readable outcome of a run, delivered as one persistent notification.
type Report struct {
	NotificationID string
	Title          string
	Message        string
	OK             bool
}

func notificationID(id dog.ID) string {
	return "hundesystem_setup_" + id.String()
}

// NewReport renders the completion report of a run.
func NewReport(r *Result) Report {
	created, skipped, failed := r.Totals()

	title := fmt.Sprintf("🐶 Hundesystem für %s eingerichtet", r.Dog.Name)
	if !r.OK() {
		title = fmt.Sprintf("⚠️ Hundesystem für %s unvollständig eingerichtet", r.Dog.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Erfolgsquote: %.1f %%\n", r.SuccessRate())
	fmt.Fprintf(&b, "Erstellt: %d, Vorhanden: %d, Fehlgeschlagen: %d\n", created, skipped, failed)
	fmt.Fprintf(&b, "Dauer: %s\n", r.Duration().Round(100*time.Millisecond))

	b.WriteString("\nBereiche:\n")
	for _, d := range r.Domains {
		fmt.Fprintf(&b, "- %s: %d erstellt, %d vorhanden, %d fehlgeschlagen", d.Domain, d.Created, d.Skipped, d.Failed)
		if d.Rounds > 0 {
			fmt.Fprintf(&b, " (%d Wiederholungsrunden)", d.Rounds)
		}
		b.WriteString("\n")
	}

	if len(r.SkippedDomains) > 0 {
		fmt.Fprintf(&b, "\nNicht unterstützt: %s\n", strings.Join(r.SkippedDomains, ", "))
	}

	if failedEntities := r.FailedEntities(); len(failedEntities) > 0 {
		b.WriteString("\nFehlgeschlagene Entitäten:\n")
		for _, id := range failedEntities {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	var strays []string
	for _, d := range r.Domains {
		strays = append(strays, d.Strays...)
	}
	if len(strays) > 0 {
		b.WriteString("\nVerwaiste Helfer (bitte manuell löschen):\n")
		for _, id := range strays {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	if len(r.CriticalMissing) > 0 {
		b.WriteString("\nFehlende kritische Entitäten:\n")
		for _, id := range r.CriticalMissing {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	if len(r.CriticalProblems) > 0 {
		ids := make([]string, 0, len(r.CriticalProblems))
		for id := range r.CriticalProblems {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		b.WriteString("\nProblematische kritische Entitäten:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s: %s\n", id, r.CriticalProblems[id])
		}
	}

	if !r.OK() {
		b.WriteString("\nEin erneuter Durchlauf erstellt nur die fehlenden Entitäten.")
	}

	return Report{
		NotificationID: notificationID(r.Dog.ID),
		Title:          title,
		Message:        strings.TrimRight(b.String(), "\n"),
		OK:             r.OK(),
	}
}

// FailureReport renders the notice for a run that could not start or was aborted.
func FailureReport(d dog.Dog, err error) Report {
	msg := fmt.Sprintf("Die Einrichtung wurde abgebrochen: %v", err)
	if errors.Is(err, ErrMissingCapability) {
		msg += "\n\nBitte prüfen, ob die Helfer-Integrationen (input_boolean, counter, input_datetime, " +
			"input_text, input_number, input_select) in Home Assistant aktiv sind, und die Einrichtung erneut starten."
	}

	return Report{
		NotificationID: notificationID(d.ID),
		Title:          fmt.Sprintf("❌ Hundesystem für %s nicht eingerichtet", d.Name),
		Message:        msg,
	}
}
