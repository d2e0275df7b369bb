package provision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/catalog"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/hasstest"
	"github.com/jkaflik/hundesystem/pkg/retry"
)

var bello = dog.Dog{ID: "bello", Name: "Bello"}

func fastOptions() Options {
	return Options{
		BatchSize:      8,
		AttemptTimeout: time.Second,
		Retry: retry.Config{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		},
		DomainRetries: 1,
		Buttons:       true,
	}
}

func expectedTotal(cat *catalog.Catalog) int {
	return cat.Len() + len(cat.Buttons())
}

func TestEngine_ProvisionIsIdempotent(t *testing.T) {
	host := hasstest.New()
	cat := catalog.New()
	engine := NewEngine(host, cat, fastOptions())

	first, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	created, skipped, failed := first.Totals()
	assert.Equal(t, expectedTotal(cat), created)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)
	assert.True(t, first.OK())
	assert.Equal(t, 100.0, first.SuccessRate())
	assert.NotEmpty(t, first.RunID)

	second, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	created, skipped, failed = second.Totals()
	assert.Zero(t, created)
	assert.Equal(t, expectedTotal(cat), skipped)
	assert.Zero(t, failed)
	assert.Equal(t, expectedTotal(cat), host.TotalCreated())
	assert.NotEqual(t, first.RunID, second.RunID)

	st := host.State("input_select.bello_health_status")
	require.NotNil(t, st)
	assert.Equal(t, catalog.HealthGood, st.State)
	assert.Equal(t, "Bello Gesundheitsstatus", st.FriendlyName())
}

func TestEngine_DomainOrder(t *testing.T) {
	host := hasstest.New()
	engine := NewEngine(host, catalog.New(), fastOptions())

	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	var domains []string
	for _, d := range result.Domains {
		domains = append(domains, d.Domain)
	}
	assert.Equal(t, []string{
		hass.EntityInputBoolean,
		hass.EntityCounter,
		hass.EntityInputDateTime,
		hass.EntityInputText,
		hass.EntityInputNumber,
		hass.EntityInputSelect,
		hass.EntityInputButton,
	}, domains)
}

func TestEngine_RetriesTransientFailures(t *testing.T) {
	host := hasstest.New()
	host.FailCreate("counter.bello_walk_count", 2)

	engine := NewEngine(host, catalog.New(), fastOptions())
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	counters := result.Domain(hass.EntityCounter)
	require.NotNil(t, counters)
	assert.Zero(t, counters.Failed)
	assert.Equal(t, 3, counters.Attempts["counter.bello_walk_count"])
	assert.Zero(t, counters.Rounds)
	assert.Equal(t, 1, host.CreateCount("counter.bello_walk_count"))
}

func TestEngine_RetriesFailedSubsetOfDomain(t *testing.T) {
	host := hasstest.New()
	// Exhausts the first round, succeeds in the second.
	host.FailCreate("input_text.bello_vet_contact", 3)

	engine := NewEngine(host, catalog.New(), fastOptions())
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	texts := result.Domain(hass.EntityInputText)
	require.NotNil(t, texts)
	assert.Equal(t, 1, texts.Rounds)
	assert.Zero(t, texts.Failed)
	assert.Equal(t, len(catalog.New().Specs(hass.EntityInputText)), texts.Created)
	assert.Equal(t, 4, texts.Attempts["input_text.bello_vet_contact"])
	assert.Equal(t, 100.0, texts.SuccessRate())
}

func TestEngine_RecordsExhaustedEntitiesAndContinues(t *testing.T) {
	host := hasstest.New()
	host.FailCreate("input_boolean.bello_feeding_morning", 100)

	cat := catalog.New()
	engine := NewEngine(host, cat, fastOptions())
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	booleans := result.Domain(hass.EntityInputBoolean)
	require.NotNil(t, booleans)
	assert.Equal(t, 1, booleans.Failed)
	assert.Equal(t, []string{"input_boolean.bello_feeding_morning"}, booleans.FailedEntities)
	assert.Contains(t, booleans.Errors["input_boolean.bello_feeding_morning"], "injected failure")
	assert.Equal(t, 6, booleans.Attempts["input_boolean.bello_feeding_morning"])
	assert.Less(t, booleans.SuccessRate(), 100.0)

	created, _, failed := result.Totals()
	assert.Equal(t, 1, failed)
	assert.Equal(t, expectedTotal(cat)-1, created)
	assert.InDelta(t, float64(created)/float64(created+failed)*100, result.SuccessRate(), 0.001)

	assert.False(t, result.OK())
	assert.Equal(t, []string{"input_boolean.bello_feeding_morning"}, result.CriticalMissing)

	report := NewReport(result)
	assert.False(t, report.OK)
	assert.Equal(t, "hundesystem_setup_bello", report.NotificationID)
	assert.Contains(t, report.Title, "unvollständig")
	assert.Contains(t, report.Message, "input_boolean.bello_feeding_morning")
	assert.Contains(t, report.Message, "Fehlende kritische Entitäten")
}

func TestEngine_IDCollisionCreatesAtMostOneStray(t *testing.T) {
	host := hasstest.New()
	host.CollideOn("input_boolean.bello_feeding_morning")

	engine := NewEngine(host, catalog.New(), fastOptions())
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	booleans := result.Domain(hass.EntityInputBoolean)
	assert.Equal(t, 1, booleans.Failed)
	assert.Equal(t, []string{"input_boolean.bello_feeding_morning"}, booleans.FailedEntities)
	assert.Equal(t, 1, booleans.Attempts["input_boolean.bello_feeding_morning"])
	assert.Zero(t, booleans.Rounds)
	assert.Equal(t, []string{"input_boolean.bello_feeding_morning_2"}, booleans.Strays)

	assert.Equal(t, 1, host.CreateCount("input_boolean.bello_feeding_morning_2"))
	assert.Nil(t, host.State("input_boolean.bello_feeding_morning_3"))
	assert.Zero(t, host.CreateCount("input_boolean.bello_feeding_morning"))

	report := NewReport(result)
	assert.Contains(t, report.Message, "Verwaiste Helfer")
	assert.Contains(t, report.Message, "input_boolean.bello_feeding_morning_2")
}

func TestEngine_MissingCapabilityFailsFast(t *testing.T) {
	host := hasstest.New()
	host.RemoveDomain(hass.EntityCounter)

	engine := NewEngine(host, catalog.New(), fastOptions())
	result, err := engine.Provision(context.Background(), bello)

	require.ErrorIs(t, err, ErrMissingCapability)
	assert.Contains(t, err.Error(), hass.EntityCounter)
	assert.Nil(t, result)
	assert.Zero(t, host.TotalCreated())

	report := FailureReport(bello, err)
	assert.Contains(t, report.Message, "Helfer-Integrationen")
}

func TestEngine_InvalidDog(t *testing.T) {
	engine := NewEngine(hasstest.New(), catalog.New(), fastOptions())

	_, err := engine.Provision(context.Background(), dog.Dog{ID: "Not Valid", Name: "Not Valid"})
	assert.ErrorIs(t, err, ErrInvalidDog)
}

func TestEngine_SkipsUnsupportedButtons(t *testing.T) {
	host := hasstest.New()
	host.RemoveDomain(hass.EntityInputButton)

	cat := catalog.New()
	engine := NewEngine(host, cat, fastOptions())
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	assert.Equal(t, []string{hass.EntityInputButton}, result.SkippedDomains)
	assert.Nil(t, result.Domain(hass.EntityInputButton))
	assert.Equal(t, cat.Len(), host.TotalCreated())
	assert.True(t, result.OK())
}

func TestEngine_RecheckSkipsLateEntities(t *testing.T) {
	host := hasstest.New()
	host.Put("input_text.bello_notes", "", map[string]any{"friendly_name": "Bello Notizen"})
	host.HideAfterCreate("input_text.bello_notes", 1)

	engine := NewEngine(host, catalog.New(), fastOptions())
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Domain(hass.EntityInputText).Skipped)
	assert.Zero(t, host.CreateCount("input_text.bello_notes"))
}

func TestEngine_VerificationRetryDoesNotDuplicate(t *testing.T) {
	host := hasstest.New()
	// initial lookup, re-check, pre-create lookup and the first verification miss
	host.HideAfterCreate("input_number.bello_weight", 4)

	engine := NewEngine(host, catalog.New(), fastOptions())
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	numbers := result.Domain(hass.EntityInputNumber)
	assert.Zero(t, numbers.Failed)
	assert.Equal(t, 2, numbers.Attempts["input_number.bello_weight"])
	assert.Equal(t, 1, host.CreateCount("input_number.bello_weight"))
}

func TestEngine_AttemptTimeoutIsRetryable(t *testing.T) {
	host := hasstest.New()
	host.SetCreateDelay(50 * time.Millisecond)

	opts := fastOptions()
	opts.BatchSize = 100
	opts.AttemptTimeout = 5 * time.Millisecond
	opts.DomainRetries = 0
	opts.Buttons = false

	cat := catalog.New()
	engine := NewEngine(host, cat, opts)
	result, err := engine.Provision(context.Background(), bello)
	require.NoError(t, err)

	_, _, failed := result.Totals()
	assert.Equal(t, cat.Len(), failed)
	assert.Zero(t, result.SuccessRate())

	booleans := result.Domain(hass.EntityInputBoolean)
	assert.Equal(t, 3, booleans.Attempts["input_boolean.bello_outside"])
	assert.Contains(t, booleans.Errors["input_boolean.bello_outside"], "deadline exceeded")
}

func TestEngine_Cancellation(t *testing.T) {
	host := hasstest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(host, catalog.New(), fastOptions())
	_, err := engine.Provision(ctx, bello)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, host.TotalCreated())
}

func TestNameMatches(t *testing.T) {
	tests := []struct {
		actual, expected string
		want             bool
	}{
		{"Bello Notizen", "Bello Notizen", true},
		{"bello notizen", "Bello Notizen", true},
		{"Notizen", "Bello Notizen", true},
		{"Bello Notizen (2)", "Bello Notizen", true},
		{"bello_notes", "Bello Notizen", false},
		{"", "Bello Notizen", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, nameMatches(tt.actual, tt.expected), "%q vs %q", tt.actual, tt.expected)
	}
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	opts := DefaultOptions()
	opts.BatchSize = 0
	opts.Retry.MaxAttempts = 0
	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size")
	assert.Contains(t, err.Error(), "max attempts")
}
