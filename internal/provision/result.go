package provision

import (
	"sort"
	"time"

	"github.com/jkaflik/hundesystem/internal/dog"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// DomainResult accumulates the outcome of one domain during a run.
type DomainResult struct {
	Domain  string
	Created int
	Skipped int
	Failed  int

	FailedEntities []string
	// Attempts holds the creation attempts used per entity that was not skipped.
	Attempts map[string]int
	// Errors holds the last error per failed entity.
	Errors map[string]string
	// Rounds counts the re-runs of the failed subset.
	Rounds int
	// Strays lists helpers the host created under a suffixed ID that could not
	// be removed again.
	Strays []string
}

func newDomainResult(domain string) *DomainResult {
	return &DomainResult{
		Domain:   domain,
		Attempts: make(map[string]int),
		Errors:   make(map[string]string),
	}
}

// SuccessRate is created / (created + failed) in percent. A domain without
// creations or failures has a rate of 100.
func (r *DomainResult) SuccessRate() float64 {
	total := r.Created + r.Failed
	if total == 0 {
		return 100
	}
	return float64(r.Created) / float64(total) * 100
}

// Result is the aggregate of one provisioning run.
type Result struct {
	RunID      string
	Dog        dog.Dog
	StartedAt  time.Time
	FinishedAt time.Time

	Domains []*DomainResult
	// SkippedDomains lists optional domains the host does not support.
	SkippedDomains []string

	CriticalMissing  []string
	CriticalProblems map[string]string
}

// Totals sums the domain counters.
func (r *Result) Totals() (created, skipped, failed int) {
	for _, d := range r.Domains {
		created += d.Created
		skipped += d.Skipped
		failed += d.Failed
	}
	return created, skipped, failed
}

// SuccessRate is (created + skipped) / (created + skipped + failed) in percent.
func (r *Result) SuccessRate() float64 {
	created, skipped, failed := r.Totals()
	total := created + skipped + failed
	if total == 0 {
		return 100
	}
	return float64(created+skipped) / float64(total) * 100
}

// FailedEntities lists every failed entity ID, sorted.
func (r *Result) FailedEntities() []string {
	var out []string
	for _, d := range r.Domains {
		out = append(out, d.FailedEntities...)
	}
	sort.Strings(out)
	return out
}

// Domain returns the result of one domain, or nil.
func (r *Result) Domain(domain string) *DomainResult {
	for _, d := range r.Domains {
		if d.Domain == domain {
			return d
		}
	}
	return nil
}

// OK reports whether nothing failed and every critical entity is healthy.
func (r *Result) OK() bool {
	_, _, failed := r.Totals()
	return failed == 0 && len(r.CriticalMissing) == 0 && len(r.CriticalProblems) == 0
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
