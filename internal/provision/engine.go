// Package provision creates the helper entities of a dog on the host and
// verifies them afterwards.
package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/metrics"
	"github.com/jkaflik/hundesystem/pkg/retry"
)

var (
	// ErrMissingCapability aborts a run when the host lacks a required helper domain.
	ErrMissingCapability = errors.New("host is missing a required capability")
	ErrInvalidDog        = errors.New("invalid dog")
	ErrRunInProgress     = errors.New("provisioning already running for this dog")
)

// Host is the part of Home Assistant the engine talks to.
type Host interface {
	Services(ctx context.Context) (hass.Services, error)
	Lookup(ctx context.Context, entityID string) (*hass.State, error)
	CreateHelper(ctx context.Context, req hass.HelperRequest) error
}

// Options tunes pacing and retries of a provisioning run.
type Options struct {
	// BatchSize is the number of entities created concurrently.
	BatchSize int
	// BatchPause is the pause between two batches of a domain.
	BatchPause time.Duration
	// RecheckDelay is the wait before the second existence check.
	RecheckDelay time.Duration
	// VerifyDelay is the wait between a creation and its verification.
	VerifyDelay time.Duration
	// AttemptTimeout bounds a single create-and-verify attempt.
	AttemptTimeout time.Duration
	// Retry is the per-entity retry policy.
	Retry retry.Config
	// DomainRetries is how often the failed subset of a domain is re-run.
	DomainRetries int
	// Buttons provisions the optional input_button domain after the required ones.
	Buttons bool
}

// DefaultOptions returns the pacing used against a real host.
func DefaultOptions() Options {
	return Options{
		BatchSize:      3,
		BatchPause:     time.Second,
		RecheckDelay:   500 * time.Millisecond,
		VerifyDelay:    time.Second,
		AttemptTimeout: 30 * time.Second,
		Retry: retry.Config{
			MaxAttempts:     5,
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
			Jitter:          retry.UpTo(time.Second),
		},
		DomainRetries: 2,
		Buttons:       true,
	}
}

// Validate reports every invalid option at once.
func (o Options) Validate() error {
	var errs []error
	if o.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", o.BatchSize))
	}
	if o.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("attempt timeout must be positive, got %s", o.AttemptTimeout))
	}
	if o.DomainRetries < 0 {
		errs = append(errs, fmt.Errorf("domain retries must not be negative, got %d", o.DomainRetries))
	}
	if o.BatchPause < 0 || o.RecheckDelay < 0 || o.VerifyDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if err := o.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	return errors.Join(errs...)
}

// Engine provisions the helpers of dogs. Only one run per dog is active at a time.
type Engine struct {
	host    Host
	catalog *catalog.Catalog
	opts    Options

	mu      sync.Mutex
	running map[dog.ID]bool
}

// NewEngine returns an engine for host using the entities of cat.
func NewEngine(host Host, cat *catalog.Catalog, opts Options) *Engine {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &Engine{
		host:    host,
		catalog: cat,
		opts:    opts,
		running: make(map[dog.ID]bool),
	}
}

// Provision creates every missing helper entity of d. It only returns an error
// for precondition failures, concurrent runs and cancellation; entity failures
// are recorded in the result.
func (e *Engine) Provision(ctx context.Context, d dog.Dog) (*Result, error) {
	if err := d.ID.Validate(); err != nil {
		metrics.ProvisionRuns.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidDog, err)
	}

	e.mu.Lock()
	if e.running[d.ID] {
		e.mu.Unlock()
		return nil, ErrRunInProgress
	}
	e.running[d.ID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, d.ID)
		e.mu.Unlock()
	}()

	result := &Result{
		RunID:            uuid.NewString(),
		Dog:              d,
		StartedAt:        time.Now(),
		CriticalProblems: make(map[string]string),
	}
	logger := log.With().Str("dog", d.ID.String()).Str("run_id", result.RunID).Logger()

	services, err := e.host.Services(ctx)
	if err != nil {
		metrics.ProvisionRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to query host services: %w", err)
	}

	var missing []string
	for _, domain := range e.catalog.Domains() {
		if !services.Has(domain) {
			missing = append(missing, domain)
		}
	}
	if len(missing) > 0 {
		metrics.ProvisionRuns.WithLabelValues("precondition_failed").Inc()
		return nil, fmt.Errorf("%w: %s", ErrMissingCapability, strings.Join(missing, ", "))
	}

	logger.Info().Int("entities", e.catalog.Len()).Msg("Provisioning helper entities")

	domains := e.catalog.Domains()
	if e.opts.Buttons {
		if services.Has(hass.EntityInputButton) {
			domains = append(domains, hass.EntityInputButton)
		} else {
			logger.Warn().Msg("Host does not support input_button, skipping buttons")
			result.SkippedDomains = append(result.SkippedDomains, hass.EntityInputButton)
		}
	}

	for _, domain := range domains {
		dr := e.provisionDomain(ctx, d, domain)
		result.Domains = append(result.Domains, dr)

		logger.Info().
			Str("domain", domain).
			Int("created", dr.Created).
			Int("skipped", dr.Skipped).
			Int("failed", dr.Failed).
			Msg("Domain provisioned")

		if err := ctx.Err(); err != nil {
			result.FinishedAt = time.Now()
			metrics.ProvisionRuns.WithLabelValues("canceled").Inc()
			return result, fmt.Errorf("provisioning canceled: %w", err)
		}
	}

	e.verifyCritical(ctx, d, result)
	result.FinishedAt = time.Now()

	metrics.ProvisionSuccessRate.WithLabelValues(d.ID.String()).Set(result.SuccessRate())
	if result.OK() {
		metrics.ProvisionRuns.WithLabelValues("ok").Inc()
	} else {
		metrics.ProvisionRuns.WithLabelValues("partial").Inc()
	}

	created, skipped, failed := result.Totals()
	logger.Info().
		Int("created", created).
		Int("skipped", skipped).
		Int("failed", failed).
		Float64("success_rate", result.SuccessRate()).
		Dur("duration", result.Duration()).
		Msg("Provisioning finished")

	return result, nil
}

type entityOutcome struct {
	entityID string
	outcome  Outcome
	attempts int
	err      error
}

func (e *Engine) provisionDomain(ctx context.Context, d dog.Dog, domain string) *DomainResult {
	specs := e.catalog.Specs(domain)
	dr := newDomainResult(domain)
	outcomes := make(map[string]entityOutcome, len(specs))

	pending := specs
	for round := 0; ; round++ {
		failed := e.runBatches(ctx, d, pending, outcomes)
		if len(failed) == 0 || round >= e.opts.DomainRetries || ctx.Err() != nil {
			break
		}

		dr.Rounds++
		log.Warn().
			Str("dog", d.ID.String()).
			Str("domain", domain).
			Int("failed", len(failed)).
			Int("round", dr.Rounds).
			Msg("Domain incomplete, retrying failed entities")
		pending = failed
	}

	for _, spec := range specs {
		o, ok := outcomes[spec.EntityID(d.ID)]
		if !ok {
			continue
		}
		if o.attempts > 0 {
			dr.Attempts[o.entityID] += o.attempts
		}

		switch o.outcome {
		case OutcomeCreated:
			dr.Created++
		case OutcomeSkipped:
			dr.Skipped++
		case OutcomeFailed:
			dr.Failed++
			dr.FailedEntities = append(dr.FailedEntities, o.entityID)
			if o.err != nil {
				dr.Errors[o.entityID] = o.err.Error()
			}
			var collision *hass.CollisionError
			if errors.As(o.err, &collision) && !collision.Removed {
				dr.Strays = append(dr.Strays, collision.CreatedAs)
			}
		}
		metrics.ProvisionedEntities.WithLabelValues(domain, string(o.outcome)).Inc()
	}

	return dr
}

// runBatches provisions specs in batches and returns the failed ones.
func (e *Engine) runBatches(ctx context.Context, d dog.Dog, specs []catalog.EntitySpec, outcomes map[string]entityOutcome) []catalog.EntitySpec {
	var failed []catalog.EntitySpec

	for start := 0; start < len(specs); start += e.opts.BatchSize {
		if start > 0 {
			if err := sleep(ctx, e.opts.BatchPause); err != nil {
				break
			}
		}

		end := min(start+e.opts.BatchSize, len(specs))
		batch := specs[start:end]
		results := make([]entityOutcome, len(batch))

		var g errgroup.Group
		for i, spec := range batch {
			g.Go(func() error {
				results[i] = e.provisionEntity(ctx, d, spec)
				return nil
			})
		}
		_ = g.Wait()

		for i, o := range results {
			prev := outcomes[o.entityID]
			o.attempts += prev.attempts
			// A failed attempt of an earlier round may still have landed.
			if prev.outcome == OutcomeFailed && o.outcome == OutcomeSkipped {
				o.outcome = OutcomeCreated
			}
			outcomes[o.entityID] = o
			// Another round would collide the same way.
			if o.outcome == OutcomeFailed && !errors.Is(o.err, hass.ErrIDCollision) {
				failed = append(failed, batch[i])
			}
		}
	}

	return failed
}

func (e *Engine) provisionEntity(ctx context.Context, d dog.Dog, spec catalog.EntitySpec) entityOutcome {
	req := spec.Request(d)
	entityID := req.EntityID()
	logger := log.With().Str("dog", d.ID.String()).Str("entity_id", entityID).Logger()

	if st, err := e.host.Lookup(ctx, entityID); err == nil && st != nil {
		return entityOutcome{entityID: entityID, outcome: OutcomeSkipped}
	}

	// The host's state table is eventually consistent right after a restart.
	if err := sleep(ctx, e.opts.RecheckDelay); err != nil {
		return entityOutcome{entityID: entityID, outcome: OutcomeFailed, err: err}
	}
	if st, err := e.host.Lookup(ctx, entityID); err == nil && st != nil {
		return entityOutcome{entityID: entityID, outcome: OutcomeSkipped}
	}

	attempts := 0
	err := retry.DoWithCallbacks(ctx, func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
		defer cancel()
		return e.attempt(attemptCtx, spec, req)
	}, func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, hass.ErrUnauthorized) && !errors.Is(err, hass.ErrIDCollision)
	}, e.opts.Retry, retry.Callbacks{
		OnRetryAttempt: func(attempt int, err error, next time.Duration) {
			metrics.ProvisionRetryAttempts.WithLabelValues(spec.Domain).Inc()
			logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", next).Msg("Retrying helper creation")
		},
		OnRetryFailure: func(attempt int, err error) {
			logger.Error().Err(err).Int("attempts", attempt).Msg("Giving up on helper entity")
		},
	})
	if err != nil {
		return entityOutcome{entityID: entityID, outcome: OutcomeFailed, attempts: attempts, err: err}
	}

	return entityOutcome{entityID: entityID, outcome: OutcomeCreated, attempts: attempts}
}

// attempt creates the entity unless it appeared in the meantime, then verifies it.
func (e *Engine) attempt(ctx context.Context, spec catalog.EntitySpec, req hass.HelperRequest) error {
	entityID := req.EntityID()

	st, err := e.host.Lookup(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", entityID, err)
	}

	if st == nil {
		if err := e.host.CreateHelper(ctx, req); err != nil {
			return fmt.Errorf("failed to create %s: %w", entityID, err)
		}
		if err := sleep(ctx, e.opts.VerifyDelay); err != nil {
			return err
		}
	}

	return e.verify(ctx, spec.Domain, entityID, req.Name)
}

func (e *Engine) verify(ctx context.Context, domain, entityID, name string) error {
	st, err := e.host.Lookup(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", entityID, err)
	}
	if st == nil {
		return fmt.Errorf("%s is not visible after creation", entityID)
	}
	if !acceptableState(domain, st.State) {
		return fmt.Errorf("%s has placeholder state %q", entityID, st.State)
	}
	if !nameMatches(st.FriendlyName(), name) {
		return fmt.Errorf("%s has name %q, expected %q", entityID, st.FriendlyName(), name)
	}
	return nil
}

func (e *Engine) verifyCritical(ctx context.Context, d dog.Dog, result *Result) {
	for _, ref := range e.catalog.Critical() {
		entityID := ref.EntityID(d.ID)

		st, err := e.host.Lookup(ctx, entityID)
		switch {
		case err != nil:
			result.CriticalProblems[entityID] = err.Error()
		case st == nil:
			result.CriticalMissing = append(result.CriticalMissing, entityID)
		case !acceptableState(ref.Domain, st.State):
			result.CriticalProblems[entityID] = fmt.Sprintf("state is %q", st.State)
		}
	}
	sort.Strings(result.CriticalMissing)

	if len(result.CriticalMissing) > 0 || len(result.CriticalProblems) > 0 {
		log.Warn().
			Str("dog", d.ID.String()).
			Strs("missing", result.CriticalMissing).
			Int("problems", len(result.CriticalProblems)).
			Msg("Critical entities are not healthy")
	}
}

// acceptableState rejects placeholders, except "unknown" for helpers that
// have no value until first set.
func acceptableState(domain, value string) bool {
	if !hass.IsPlaceholder(value) {
		return true
	}
	switch domain {
	case hass.EntityInputDateTime, hass.EntityInputText, hass.EntityInputButton:
		return value != hass.UnavailableValue
	default:
		return false
	}
}

func nameMatches(actual, expected string) bool {
	if actual == "" || expected == "" {
		return false
	}
	a, e := strings.ToLower(actual), strings.ToLower(expected)
	return strings.Contains(a, e) || strings.Contains(e, a)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
