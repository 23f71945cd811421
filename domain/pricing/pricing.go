// Package pricing provides per-model token pricing as pure functions.
// The table is immutable after construction - no runtime mutation.
package pricing

import (
	"fmt"
	"math"
	"sort"
)

// Rate holds USD prices per one million tokens for a single model.
// Models billed per character (TTS) are converted to tokens by the
// caller via CharacterTokens before costing.
type Rate struct {
	InputPerMillion       float64
	OutputPerMillion      float64
	CachedInputPerMillion float64
}

// UnknownModelError is returned when a model is absent from the table.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("pricing: unknown model %q", e.Model)
}

// Table maps model names to rates (immutable value type).
type Table struct {
	rates map[string]Rate
}

// NewTable builds a pricing table from a rate map. The map is copied,
// so later mutation of the argument does not affect the table.
func NewTable(rates map[string]Rate) Table {
	copied := make(map[string]Rate, len(rates))
	for model, r := range rates {
		copied[model] = r
	}
	return Table{rates: copied}
}

// Rate returns the rate for a model.
func (t Table) Rate(model string) (Rate, bool) {
	r, ok := t.rates[model]
	return r, ok
}

// Has reports whether a model is priced.
func (t Table) Has(model string) bool {
	_, ok := t.rates[model]
	return ok
}

// Models returns the priced model names, sorted.
func (t Table) Models() []string {
	models := make([]string, 0, len(t.rates))
	for m := range t.rates {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Cost computes the USD cost of a completed call.
// Cached tokens are billed at the cached-input rate and subtracted from
// the prompt tokens billed at the full input rate.
// The result is rounded half-up to 4 decimal places.
// This is a PURE function.
func (t Table) Cost(model string, promptTokens, completionTokens, cachedTokens int64) (float64, error) {
	r, ok := t.rates[model]
	if !ok {
		return 0, &UnknownModelError{Model: model}
	}
	if promptTokens < 0 || completionTokens < 0 || cachedTokens < 0 {
		return 0, fmt.Errorf("pricing: negative token count")
	}
	if cachedTokens > promptTokens {
		cachedTokens = promptTokens
	}

	freshPrompt := promptTokens - cachedTokens
	cost := float64(freshPrompt)/1_000_000*r.InputPerMillion +
		float64(cachedTokens)/1_000_000*r.CachedInputPerMillion +
		float64(completionTokens)/1_000_000*r.OutputPerMillion

	return roundHalfUp4(cost), nil
}

// roundHalfUp4 rounds to 4 decimal places, half up on the 4th decimal.
func roundHalfUp4(v float64) float64 {
	return math.Floor(v*10000+0.5) / 10000
}

// CharacterTokens approximates tokens for character-priced models:
// one token per 4 characters, rounded up.
// This is a PURE function.
func CharacterTokens(characters int64) int64 {
	if characters <= 0 {
		return 0
	}
	return (characters + 3) / 4
}
