package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantpipe/strategy-gate/pkg/types"
	"go.uber.org/zap"
)

// BatchItem is one candidate in a batch evaluation
type BatchItem struct {
	Strategy  types.StrategySpec
	Bars      map[string][]types.Bar
	Portfolio types.PortfolioState
}

// EvaluateBatch runs several candidates through the pipeline concurrently
// with a bounded number of workers. Results are returned in input order; a
// candidate whose run fails outright still gets an error-status result so the
// batch never loses an item. Fails fast with ErrKillSwitchActive before
// starting any work.
func (o *Orchestrator) EvaluateBatch(
	ctx context.Context,
	items []BatchItem,
	workers int,
	shouldExecute bool,
) ([]*types.CandidateResult, error) {
	if o.killSwitch.Active() {
		return nil, fmt.Errorf("%w: %s", ErrKillSwitchActive, o.killSwitch.State().Reason)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(items) {
		workers = len(items)
	}

	o.logger.Info("Batch evaluation started",
		zap.Int("candidates", len(items)),
		zap.Int("workers", workers))

	results := make([]*types.CandidateResult, len(items))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := o.EvaluateAndExecute(ctx, item.Strategy, item.Bars, item.Portfolio, shouldExecute)
			if result == nil {
				result = &types.CandidateResult{
					RunID:       uuid.New().String(),
					Strategy:    item.Strategy,
					Status:      types.CandidateStatusError,
					StartedAt:   time.Now().UTC(),
					CompletedAt: time.Now().UTC(),
				}
				if err != nil {
					result.ExecutionError = err.Error()
				}
			}
			results[i] = result
		}(i, item)
	}
	wg.Wait()

	o.logger.Info("Batch evaluation complete", zap.Int("candidates", len(items)))
	return results, nil
}
