package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/quantpipe/strategy-gate/pkg/types"
)

func TestEvaluateBatchPreservesOrder(t *testing.T) {
	f := newFixture(t, nil)

	items := make([]BatchItem, 3)
	for i := range items {
		strategy := testStrategy()
		strategy.StrategyID = string(rune('a' + i))
		items[i] = BatchItem{
			Strategy:  strategy,
			Bars:      barsFor("AAPL", 30),
			Portfolio: startingPortfolio(),
		}
	}

	results, err := f.orchestrator.EvaluateBatch(context.Background(), items, 2, false)
	if err != nil {
		t.Fatalf("EvaluateBatch failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, result := range results {
		if result == nil {
			t.Fatalf("Result %d is nil", i)
		}
		if result.Strategy.StrategyID != items[i].Strategy.StrategyID {
			t.Errorf("Result %d out of order: got strategy %q", i, result.Strategy.StrategyID)
		}
		if result.Status != types.CandidateStatusEvaluated {
			t.Errorf("Result %d: expected evaluated, got %s", i, result.Status)
		}
	}
}

func TestEvaluateBatchKillSwitch(t *testing.T) {
	f := newFixture(t, nil)
	f.orchestrator.KillSwitch().Activate("halt")

	_, err := f.orchestrator.EvaluateBatch(context.Background(), []BatchItem{{
		Strategy:  testStrategy(),
		Bars:      barsFor("AAPL", 30),
		Portfolio: startingPortfolio(),
	}}, 1, false)
	if !errors.Is(err, ErrKillSwitchActive) {
		t.Fatalf("Expected ErrKillSwitchActive, got %v", err)
	}
}
