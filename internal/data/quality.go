// Package data provides quality screening for historical OHLCV bars before
// any downstream computation trusts them. Checks cover missing fields, OHLC
// relationship consistency, duplicate timestamps, gaps, and price/volume
// outliers. The report is advisory: the checker never blocks callers itself.
package data

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checker validates OHLCV bar integrity
type Checker struct {
	logger *zap.Logger
	cfg    types.QualityConfig
}

// NewChecker creates a quality checker.
func NewChecker(logger *zap.Logger, cfg types.QualityConfig) *Checker {
	return &Checker{
		logger: logger.Named("quality"),
		cfg:    cfg,
	}
}

// Validate runs all quality checks on a single symbol's bars. Empty input
// always fails. Checks accumulate without short-circuiting.
func (c *Checker) Validate(bars []types.Bar, symbol string) *types.QualityReport {
	report := &types.QualityReport{
		OverallStatus: types.QualityStatusPass,
		BarsChecked:   len(bars),
	}

	if len(bars) == 0 {
		addIssue(report, types.QualityIssue{
			Severity:    types.IssueSeverityError,
			Check:       "empty_data",
			Symbol:      symbol,
			Description: "no bars provided",
		})
		return report
	}

	c.checkMissingValues(bars, symbol, report)
	c.checkOHLCRelationships(bars, symbol, report)
	c.checkDuplicateTimestamps(bars, symbol, report)
	c.checkChronologicalOrder(bars, symbol, report)
	c.checkGaps(bars, symbol, report)
	c.checkOutliers(bars, symbol, report)

	c.generateRecommendations(report)

	c.logger.Debug("Quality check complete",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
		zap.String("status", string(report.OverallStatus)),
		zap.Int("issues", len(report.Issues)))

	return report
}

// ValidateUniverse validates each symbol's bars and merges the findings into
// a single report. The overall status is the worst per-symbol status.
func (c *Checker) ValidateUniverse(barsBySymbol map[string][]types.Bar) *types.QualityReport {
	merged := &types.QualityReport{OverallStatus: types.QualityStatusPass}

	if len(barsBySymbol) == 0 {
		addIssue(merged, types.QualityIssue{
			Severity:    types.IssueSeverityError,
			Check:       "empty_data",
			Description: "no market data provided",
		})
		return merged
	}

	symbols := make([]string, 0, len(barsBySymbol))
	for symbol := range barsBySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	seen := make(map[string]bool)
	for _, symbol := range symbols {
		report := c.Validate(barsBySymbol[symbol], symbol)
		merged.BarsChecked += report.BarsChecked
		merged.GapCount += report.GapCount
		merged.OutlierCount += report.OutlierCount
		for _, issue := range report.Issues {
			addIssue(merged, issue)
		}
		for _, check := range report.ChecksPerformed {
			if !seen[check] {
				seen[check] = true
				merged.ChecksPerformed = append(merged.ChecksPerformed, check)
			}
		}
	}

	c.generateRecommendations(merged)
	return merged
}

func (c *Checker) checkMissingValues(bars []types.Bar, symbol string, report *types.QualityReport) {
	report.ChecksPerformed = append(report.ChecksPerformed, "missing_values")

	for i, bar := range bars {
		if bar.Timestamp.IsZero() {
			addIssue(report, types.QualityIssue{
				Severity:    types.IssueSeverityError,
				Check:       "missing_values",
				Symbol:      symbol,
				Description: fmt.Sprintf("missing timestamp at index %d", i),
				BarIndex:    i,
			})
		}
		for _, field := range []struct {
			name  string
			value decimal.Decimal
		}{
			{"open", bar.Open},
			{"high", bar.High},
			{"low", bar.Low},
			{"close", bar.Close},
		} {
			if field.value.LessThanOrEqual(decimal.Zero) {
				addIssue(report, types.QualityIssue{
					Severity:    types.IssueSeverityError,
					Check:       "missing_values",
					Symbol:      symbol,
					Description: fmt.Sprintf("non-positive %s at index %d", field.name, i),
					BarIndex:    i,
					Timestamp:   bar.Timestamp,
				})
			}
		}
		if bar.Volume.LessThan(decimal.Zero) {
			addIssue(report, types.QualityIssue{
				Severity:    types.IssueSeverityError,
				Check:       "missing_values",
				Symbol:      symbol,
				Description: fmt.Sprintf("negative volume at index %d", i),
				BarIndex:    i,
				Timestamp:   bar.Timestamp,
			})
		}
	}
}

func (c *Checker) checkOHLCRelationships(bars []types.Bar, symbol string, report *types.QualityReport) {
	report.ChecksPerformed = append(report.ChecksPerformed, "ohlc_relationships")

	for i, bar := range bars {
		if bar.High.LessThan(bar.Low) {
			addIssue(report, types.QualityIssue{
				Severity:    types.IssueSeverityError,
				Check:       "ohlc_relationships",
				Symbol:      symbol,
				Description: fmt.Sprintf("high (%s) < low (%s) at index %d", bar.High, bar.Low, i),
				BarIndex:    i,
				Timestamp:   bar.Timestamp,
			})
		}
		if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) {
			addIssue(report, types.QualityIssue{
				Severity:    types.IssueSeverityError,
				Check:       "ohlc_relationships",
				Symbol:      symbol,
				Description: fmt.Sprintf("high is not the highest price at index %d (O:%s H:%s L:%s C:%s)", i, bar.Open, bar.High, bar.Low, bar.Close),
				BarIndex:    i,
				Timestamp:   bar.Timestamp,
			})
		}
		if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
			addIssue(report, types.QualityIssue{
				Severity:    types.IssueSeverityError,
				Check:       "ohlc_relationships",
				Symbol:      symbol,
				Description: fmt.Sprintf("low is not the lowest price at index %d (O:%s H:%s L:%s C:%s)", i, bar.Open, bar.High, bar.Low, bar.Close),
				BarIndex:    i,
				Timestamp:   bar.Timestamp,
			})
		}
	}
}

func (c *Checker) checkDuplicateTimestamps(bars []types.Bar, symbol string, report *types.QualityReport) {
	report.ChecksPerformed = append(report.ChecksPerformed, "duplicate_timestamps")

	seen := make(map[int64]int, len(bars))
	for i, bar := range bars {
		ts := bar.Timestamp.UnixNano()
		if first, exists := seen[ts]; exists {
			addIssue(report, types.QualityIssue{
				Severity:    types.IssueSeverityWarning,
				Check:       "duplicate_timestamps",
				Symbol:      symbol,
				Description: fmt.Sprintf("duplicate timestamp at index %d (first at %d)", i, first),
				BarIndex:    i,
				Timestamp:   bar.Timestamp,
			})
		} else {
			seen[ts] = i
		}
	}
}

func (c *Checker) checkChronologicalOrder(bars []types.Bar, symbol string, report *types.QualityReport) {
	report.ChecksPerformed = append(report.ChecksPerformed, "chronological_order")

	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Before(bars[i-1].Timestamp) {
			addIssue(report, types.QualityIssue{
				Severity:    types.IssueSeverityError,
				Check:       "chronological_order",
				Symbol:      symbol,
				Description: fmt.Sprintf("bar at index %d is out of chronological order", i),
				BarIndex:    i,
				Timestamp:   bars[i].Timestamp,
			})
		}
	}
}

func (c *Checker) checkGaps(bars []types.Bar, symbol string, report *types.QualityReport) {
	report.ChecksPerformed = append(report.ChecksPerformed, "gaps")

	if len(bars) < 2 {
		return
	}

	sorted := sortedByTime(bars)
	threshold := time.Duration(c.cfg.GapThresholdDays) * 24 * time.Hour

	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp)
		if gap > threshold {
			report.GapCount++
			addIssue(report, types.QualityIssue{
				Severity: types.IssueSeverityWarning,
				Check:    "gaps",
				Symbol:   symbol,
				Description: fmt.Sprintf("gap of %.0f days between %s and %s",
					gap.Hours()/24,
					sorted[i-1].Timestamp.Format("2006-01-02"),
					sorted[i].Timestamp.Format("2006-01-02")),
				BarIndex:  i,
				Timestamp: sorted[i].Timestamp,
			})
		}
	}
}

func (c *Checker) checkOutliers(bars []types.Bar, symbol string, report *types.QualityReport) {
	report.ChecksPerformed = append(report.ChecksPerformed, "outliers")

	if len(bars) < 2 {
		return
	}

	sorted := sortedByTime(bars)
	outlierThreshold := decimal.NewFromFloat(c.cfg.OutlierThresholdPct)
	spikeMultiple := decimal.NewFromFloat(c.cfg.VolumeSpikeMultiple)
	lookback := c.cfg.VolumeSpikeLookback

	for i := 1; i < len(sorted); i++ {
		prevClose := sorted[i-1].Close
		if prevClose.GreaterThan(decimal.Zero) {
			change := sorted[i].Close.Sub(prevClose).Div(prevClose).Abs()
			if change.GreaterThan(outlierThreshold) {
				report.OutlierCount++
				addIssue(report, types.QualityIssue{
					Severity: types.IssueSeverityWarning,
					Check:    "outliers",
					Symbol:   symbol,
					Description: fmt.Sprintf("large close-over-close move of %s%% at index %d",
						change.Mul(decimal.NewFromInt(100)).StringFixed(2), i),
					BarIndex:  i,
					Timestamp: sorted[i].Timestamp,
				})
			}
		}

		if lookback > 0 && i >= lookback {
			var total decimal.Decimal
			for j := i - lookback; j < i; j++ {
				total = total.Add(sorted[j].Volume)
			}
			avg := total.Div(decimal.NewFromInt(int64(lookback)))
			if avg.GreaterThan(decimal.Zero) && sorted[i].Volume.GreaterThan(avg.Mul(spikeMultiple)) {
				addIssue(report, types.QualityIssue{
					Severity: types.IssueSeverityWarning,
					Check:    "outliers",
					Symbol:   symbol,
					Description: fmt.Sprintf("volume spike at index %d: %s (%sx trailing average)",
						i, sorted[i].Volume, sorted[i].Volume.Div(avg).StringFixed(1)),
					BarIndex:  i,
					Timestamp: sorted[i].Timestamp,
				})
			}
		}
	}
}

func (c *Checker) generateRecommendations(report *types.QualityReport) {
	report.Recommendations = nil

	if report.OverallStatus == types.QualityStatusPass {
		report.Recommendations = append(report.Recommendations, "data quality is acceptable, no action needed")
		return
	}

	if report.GapCount > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("found %d gaps, consider filling missing data", report.GapCount))
	}
	if report.OutlierCount > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("found %d outliers, verify data source accuracy", report.OutlierCount))
	}

	var errorCount, warningCount int
	for _, issue := range report.Issues {
		switch issue.Severity {
		case types.IssueSeverityError:
			errorCount++
		case types.IssueSeverityWarning:
			warningCount++
		}
	}
	if errorCount > 0 || warningCount > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("review %d errors and %d warnings before using data", errorCount, warningCount))
	}
}

// Clean returns a copy of bars sorted by timestamp with duplicates, inverted
// OHLC ranges, and non-positive prices removed.
func (c *Checker) Clean(bars []types.Bar) []types.Bar {
	if len(bars) == 0 {
		return bars
	}

	sorted := sortedByTime(bars)
	cleaned := make([]types.Bar, 0, len(sorted))
	seen := make(map[int64]bool, len(sorted))

	for _, bar := range sorted {
		ts := bar.Timestamp.UnixNano()
		if seen[ts] {
			continue
		}
		seen[ts] = true

		if bar.High.LessThan(bar.Low) {
			continue
		}
		if bar.Open.LessThanOrEqual(decimal.Zero) ||
			bar.High.LessThanOrEqual(decimal.Zero) ||
			bar.Low.LessThanOrEqual(decimal.Zero) ||
			bar.Close.LessThanOrEqual(decimal.Zero) {
			continue
		}

		cleaned = append(cleaned, bar)
	}

	c.logger.Info("Data cleaning complete",
		zap.Int("original", len(bars)),
		zap.Int("cleaned", len(cleaned)),
		zap.Int("removed", len(bars)-len(cleaned)))

	return cleaned
}

// addIssue appends an issue and escalates the overall status (fail > warning > pass).
func addIssue(report *types.QualityReport, issue types.QualityIssue) {
	report.Issues = append(report.Issues, issue)
	switch issue.Severity {
	case types.IssueSeverityError:
		report.OverallStatus = types.QualityStatusFail
	case types.IssueSeverityWarning:
		if report.OverallStatus == types.QualityStatusPass {
			report.OverallStatus = types.QualityStatusWarning
		}
	}
}

func sortedByTime(bars []types.Bar) []types.Bar {
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}
