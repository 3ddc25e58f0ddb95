// Package scenario provides predefined crisis scenarios and metric gating
// rules that decide whether a validated strategy may proceed to execution.
package scenario

import (
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
)

// Predefined crisis scenarios used as the golden gating dataset.
var (
	Scenario2008Crisis = types.Scenario{
		ScenarioID:  "2008_crisis",
		Name:        "2008 Financial Crisis",
		Description: "Financial crisis period from October 2007 to March 2009",
		StartDate:   time.Date(2007, 10, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2009, 3, 31, 0, 0, 0, 0, time.UTC),
		Tags:        []string{"crisis", "volatility", "bear_market", "financial"},
	}

	Scenario2020Covid = types.Scenario{
		ScenarioID:  "2020_covid",
		Name:        "2020 COVID-19 Pandemic",
		Description: "COVID-19 market crash and recovery period from February to June 2020",
		StartDate:   time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC),
		Tags:        []string{"crisis", "volatility", "pandemic", "bear_market"},
	}

	Scenario2022Bear = types.Scenario{
		ScenarioID:  "2022_bear",
		Name:        "2022 Bear Market",
		Description: "Bear market period in 2022 with inflation concerns and rate hikes",
		StartDate:   time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
		Tags:        []string{"bear_market", "volatility", "inflation"},
	}
)

// Predefined returns the built-in scenarios.
func Predefined() []types.Scenario {
	return []types.Scenario{Scenario2008Crisis, Scenario2020Covid, Scenario2022Bear}
}

// Get looks up a predefined scenario by ID.
func Get(scenarioID string) (types.Scenario, bool) {
	for _, s := range Predefined() {
		if s.ScenarioID == scenarioID {
			return s, true
		}
	}
	return types.Scenario{}, false
}

// List returns predefined scenarios, filtered to those carrying all the given
// tags when any are supplied.
func List(tags []string) []types.Scenario {
	scenarios := Predefined()
	if len(tags) == 0 {
		return scenarios
	}

	var filtered []types.Scenario
	for _, scenario := range scenarios {
		if hasAllTags(scenario.Tags, tags) {
			filtered = append(filtered, scenario)
		}
	}
	return filtered
}

// DefaultGatingRules returns the rule set applied when a caller supplies none.
func DefaultGatingRules() []types.GatingRule {
	return []types.GatingRule{
		{
			Metric:       "max_drawdown",
			Operator:     "<",
			Threshold:    0.5,
			ScenarioTags: []string{"crisis"},
		},
		{
			Metric:    "sharpe",
			Operator:  ">",
			Threshold: 0.5,
		},
		{
			Metric:       "total_return",
			Operator:     ">",
			Threshold:    -0.2,
			ScenarioTags: []string{"crisis"},
		},
	}
}

func hasAllTags(have, want []string) bool {
	for _, tag := range want {
		found := false
		for _, h := range have {
			if h == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func hasAnyTag(have, want []string) bool {
	for _, tag := range want {
		for _, h := range have {
			if h == tag {
				return true
			}
		}
	}
	return false
}
