package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Metric names one tracked performance series.
type Metric string

// Metric values, in the order correlation analysis reports them.
const (
	MetricSales      Metric = "sales"
	MetricEngagement Metric = "engagement"
	MetricViews      Metric = "views"
	MetricRevenue    Metric = "revenue"
)

// TrackedMetrics lists the metrics correlated against execution events.
var TrackedMetrics = []Metric{MetricSales, MetricEngagement, MetricViews, MetricRevenue}

// PerformanceReport is one weekly sample of campaign performance.
type PerformanceReport struct {
	ID              string    `json:"id"`
	CampaignID      string    `json:"campaign_id"`
	WeekStarting    time.Time `json:"week_starting"`
	TotalSales      float64   `json:"total_sales"`
	TotalRevenue    float64   `json:"total_revenue"`
	TotalEngagement float64   `json:"total_engagement"`
	Views           float64   `json:"views"`
	CreatedAt       time.Time `json:"created_at"`
}

// PerformanceReportInput holds constructor values for a report.
type PerformanceReportInput struct {
	ID              string
	CampaignID      string
	WeekStarting    time.Time
	TotalSales      float64
	TotalRevenue    float64
	TotalEngagement float64
	Views           float64
}

// NewPerformanceReport validates and constructs a report; week_starting is kept at day precision.
func NewPerformanceReport(in PerformanceReportInput, now time.Time) (PerformanceReport, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.CampaignID = strings.TrimSpace(in.CampaignID)
	if in.ID == "" || in.CampaignID == "" {
		return PerformanceReport{}, ErrInvalidID
	}
	if in.WeekStarting.IsZero() {
		return PerformanceReport{}, ErrInvalidReport
	}
	for _, value := range []float64{in.TotalSales, in.TotalRevenue, in.TotalEngagement, in.Views} {
		if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			return PerformanceReport{}, ErrInvalidReport
		}
	}
	return PerformanceReport{
		ID:              in.ID,
		CampaignID:      in.CampaignID,
		WeekStarting:    dateOnly(in.WeekStarting),
		TotalSales:      in.TotalSales,
		TotalRevenue:    in.TotalRevenue,
		TotalEngagement: in.TotalEngagement,
		Views:           in.Views,
		CreatedAt:       now.UTC(),
	}, nil
}

// Value returns the report's value for metric.
func (r PerformanceReport) Value(metric Metric) float64 {
	switch metric {
	case MetricSales:
		return r.TotalSales
	case MetricEngagement:
		return r.TotalEngagement
	case MetricViews:
		return r.Views
	case MetricRevenue:
		return r.TotalRevenue
	default:
		return 0
	}
}

// SortReports orders reports by week_starting ascending.
func SortReports(reports []PerformanceReport) {
	slices.SortStableFunc(reports, func(a, b PerformanceReport) int {
		return a.WeekStarting.Compare(b.WeekStarting)
	})
}
