package performance

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"QuantPipe/internal/domain/models"
)

// ReportOptions tunes ranking flags.
type ReportOptions struct {
	// MinSignals marks models with fewer trades as insufficient_sample.
	MinSignals int
	// UnderperformBelow flags models whose total return is lower.
	UnderperformBelow float64
}

// OverallScore is the weighted composite shown next to the Sharpe ranking.
func OverallScore(r models.PerformanceRecord) float64 {
	return 0.3*r.Sharpe +
		0.25*r.AvgReturn +
		0.2*r.WinRate +
		0.15*r.PredictionAccuracy +
		0.1/(1+math.Abs(r.MaxDrawdown))
}

// Rank orders records by Sharpe descending, then total return descending,
// then model name ascending.
func Rank(records []models.PerformanceRecord, opts ReportOptions) []models.ModelRanking {
	sorted := make([]models.PerformanceRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Sharpe != b.Sharpe {
			return a.Sharpe > b.Sharpe
		}
		if a.TotalReturn != b.TotalReturn {
			return a.TotalReturn > b.TotalReturn
		}
		return a.ModelName < b.ModelName
	})

	out := make([]models.ModelRanking, len(sorted))
	for i, r := range sorted {
		out[i] = models.ModelRanking{
			Rank:               i + 1,
			ModelID:            r.ModelID,
			ModelName:          r.ModelName,
			Sharpe:             r.Sharpe,
			TotalReturn:        r.TotalReturn,
			AvgReturn:          r.AvgReturn,
			WinRate:            r.WinRate,
			MaxDrawdown:        r.MaxDrawdown,
			OverallScore:       OverallScore(r),
			TotalTrades:        r.TotalTrades,
			InsufficientSample: r.TotalTrades < opts.MinSignals,
		}
	}
	return out
}

// BuildReport ranks records into the daily report. An empty input gives a
// report with no rankings.
func BuildReport(date time.Time, records []models.PerformanceRecord, opts ReportOptions) models.PerformanceReport {
	rankings := Rank(records, opts)
	report := models.PerformanceReport{
		ReportDate:  date,
		TotalModels: len(rankings),
		Rankings:    rankings,
	}
	if len(rankings) == 0 {
		return report
	}

	best := rankings[0]
	worst := rankings[len(rankings)-1]
	report.BestModel = &best
	report.WorstModel = &worst

	totals := make([]float64, len(rankings))
	for i, r := range rankings {
		totals[i] = r.TotalReturn
		if r.TotalReturn < opts.UnderperformBelow {
			report.Underperforming = append(report.Underperforming, r.ModelName)
		}
	}
	report.AvgReturnAll = stat.Mean(totals, nil)
	return report
}
