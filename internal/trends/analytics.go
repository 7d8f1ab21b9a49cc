package trends

import (
	"sort"
)

// DefaultChartDays is the number of days kept by DailySpend in the dashboard
const DefaultChartDays = 14

// Summary is the dashboard headline figures
type Summary struct {
	InvoiceCount  int     `json:"invoice_count"`
	AnalyzedCount int     `json:"analyzed_count"`
	TotalSpent    float64 `json:"total_spent"`
	AverageTicket float64 `json:"average_ticket"`
}

// Summarize totals item spend and averages it over analyzed invoices
func Summarize(invoiceCount, analyzedCount int, purchases []Purchase) Summary {
	s := Summary{InvoiceCount: invoiceCount, AnalyzedCount: analyzedCount}
	for _, p := range purchases {
		s.TotalSpent += p.TotalPrice
	}
	if analyzedCount > 0 {
		s.AverageTicket = s.TotalSpent / float64(analyzedCount)
	}
	return s
}

// History returns the purchases of one product in chronological order.
// Purchases without a date or a unit price are left out.
func History(purchases []Purchase, description string) []Purchase {
	key := NormalizeDescription(description)
	history := []Purchase{}
	if key == "" {
		return history
	}
	for _, p := range purchases {
		if NormalizeDescription(p.Description) != key {
			continue
		}
		if p.PurchasedAt.IsZero() || p.UnitPrice == 0 {
			continue
		}
		history = append(history, p)
	}
	sortChronologically(history)
	return history
}

// DaySpend is the spend of one calendar day
type DaySpend struct {
	Day   string  `json:"day"`
	Total float64 `json:"total"`
}

// DailySpend groups item totals by invoice day (UTC) and keeps the most recent days
func DailySpend(purchases []Purchase, days int) []DaySpend {
	totals := make(map[string]float64)
	for _, p := range purchases {
		if p.PurchasedAt.IsZero() {
			continue
		}
		totals[p.PurchasedAt.UTC().Format("2006-01-02")] += p.TotalPrice
	}

	spend := make([]DaySpend, 0, len(totals))
	for day, total := range totals {
		spend = append(spend, DaySpend{Day: day, Total: total})
	}
	sort.Slice(spend, func(i, j int) bool { return spend[i].Day < spend[j].Day })

	if days > 0 && len(spend) > days {
		spend = spend[len(spend)-days:]
	}
	return spend
}
