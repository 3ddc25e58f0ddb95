package data

import (
	"strings"
	"testing"
	"time"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testBar(day int, open, high, low, close, volume float64) types.Bar {
	return types.Bar{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

func validBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = testBar(i, 100, 101, 99, 100, 10000)
	}
	return bars
}

func newTestChecker() *Checker {
	return NewChecker(zap.NewNop(), types.DefaultQualityConfig())
}

func hasIssue(report *types.QualityReport, check string, severity types.IssueSeverity) bool {
	for _, issue := range report.Issues {
		if issue.Check == check && issue.Severity == severity {
			return true
		}
	}
	return false
}

func TestValidateCleanData(t *testing.T) {
	checker := newTestChecker()
	report := checker.Validate(validBars(30), "AAPL")

	if report.OverallStatus != types.QualityStatusPass {
		t.Fatalf("Expected pass, got %s with issues %v", report.OverallStatus, report.Issues)
	}
	if report.BarsChecked != 30 {
		t.Errorf("Expected 30 bars checked, got %d", report.BarsChecked)
	}
	if len(report.Issues) != 0 {
		t.Errorf("Expected no issues, got %d", len(report.Issues))
	}
}

func TestValidateEmptyData(t *testing.T) {
	checker := newTestChecker()
	report := checker.Validate(nil, "AAPL")

	if report.OverallStatus != types.QualityStatusFail {
		t.Fatalf("Empty data should fail, got %s", report.OverallStatus)
	}
	if !hasIssue(report, "empty_data", types.IssueSeverityError) {
		t.Error("Expected empty_data error issue")
	}
}

func TestValidateHighBelowLow(t *testing.T) {
	bars := validBars(10)
	bars[4] = testBar(4, 100, 95, 105, 100, 10000) // high < low

	checker := newTestChecker()
	report := checker.Validate(bars, "AAPL")

	if report.OverallStatus != types.QualityStatusFail {
		t.Fatalf("Expected fail, got %s", report.OverallStatus)
	}
	if !hasIssue(report, "ohlc_relationships", types.IssueSeverityError) {
		t.Error("Expected ohlc_relationships error issue")
	}
}

func TestValidateNonPositivePrice(t *testing.T) {
	bars := validBars(10)
	bars[2].Close = decimal.Zero

	checker := newTestChecker()
	report := checker.Validate(bars, "AAPL")

	if report.OverallStatus != types.QualityStatusFail {
		t.Fatalf("Expected fail, got %s", report.OverallStatus)
	}
	if !hasIssue(report, "missing_values", types.IssueSeverityError) {
		t.Error("Expected missing_values error issue")
	}
}

func TestValidateGapsAreWarnings(t *testing.T) {
	bars := validBars(10)
	// Push the last five bars ten days out
	for i := 5; i < 10; i++ {
		bars[i].Timestamp = bars[i].Timestamp.AddDate(0, 0, 10)
	}

	checker := newTestChecker()
	report := checker.Validate(bars, "AAPL")

	if report.OverallStatus != types.QualityStatusWarning {
		t.Fatalf("Expected warning, got %s", report.OverallStatus)
	}
	if report.GapCount != 1 {
		t.Errorf("Expected 1 gap, got %d", report.GapCount)
	}
	if !hasIssue(report, "gaps", types.IssueSeverityWarning) {
		t.Error("Expected gaps warning issue")
	}
}

func TestValidateDuplicateTimestamps(t *testing.T) {
	bars := validBars(10)
	bars[5].Timestamp = bars[4].Timestamp

	checker := newTestChecker()
	report := checker.Validate(bars, "AAPL")

	if !hasIssue(report, "duplicate_timestamps", types.IssueSeverityWarning) {
		t.Error("Expected duplicate_timestamps warning issue")
	}
	if report.OverallStatus == types.QualityStatusFail {
		t.Error("Duplicates alone should not fail the report")
	}
}

func TestValidatePriceOutlier(t *testing.T) {
	bars := validBars(10)
	bars[6] = testBar(6, 130, 131, 129, 130, 10000) // 30% jump

	checker := newTestChecker()
	report := checker.Validate(bars, "AAPL")

	if report.OutlierCount == 0 {
		t.Error("Expected price outlier to be counted")
	}
	if !hasIssue(report, "outliers", types.IssueSeverityWarning) {
		t.Error("Expected outliers warning issue")
	}
}

func TestValidateVolumeSpike(t *testing.T) {
	bars := validBars(10)
	bars[8].Volume = decimal.NewFromInt(500_000) // 50x trailing average

	checker := newTestChecker()
	report := checker.Validate(bars, "AAPL")

	found := false
	for _, issue := range report.Issues {
		if issue.Check == "outliers" && strings.Contains(issue.Description, "volume spike") {
			found = true
		}
	}
	if !found {
		t.Error("Expected volume spike issue")
	}
}

func TestValidateUniverse(t *testing.T) {
	bad := validBars(10)
	bad[3] = testBar(3, 100, 95, 105, 100, 10000)

	checker := newTestChecker()
	report := checker.ValidateUniverse(map[string][]types.Bar{
		"AAPL": validBars(10),
		"MSFT": bad,
	})

	if report.OverallStatus != types.QualityStatusFail {
		t.Fatalf("One bad symbol should fail the merged report, got %s", report.OverallStatus)
	}
	if report.BarsChecked != 20 {
		t.Errorf("Expected 20 bars checked, got %d", report.BarsChecked)
	}
}

func TestClean(t *testing.T) {
	bars := validBars(10)
	bars[2] = testBar(2, 100, 95, 105, 100, 10000) // inverted range
	bars[5].Timestamp = bars[4].Timestamp          // duplicate
	bars[7].Close = decimal.Zero                   // invalid price

	checker := newTestChecker()
	cleaned := checker.Clean(bars)

	if len(cleaned) != 7 {
		t.Fatalf("Expected 7 bars after cleaning, got %d", len(cleaned))
	}
	for i := 1; i < len(cleaned); i++ {
		if !cleaned[i].Timestamp.After(cleaned[i-1].Timestamp) {
			t.Error("Cleaned bars should be strictly chronological")
		}
	}
}
