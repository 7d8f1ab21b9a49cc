package trends

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Summarize", func() {
	It("averages total spend over analyzed invoices", func() {
		summary := Summarize(3, 2, []Purchase{
			{TotalPrice: 30},
			{TotalPrice: 10},
		})
		Expect(summary).To(Equal(Summary{InvoiceCount: 3, AnalyzedCount: 2, TotalSpent: 40, AverageTicket: 20}))
	})

	It("reports a zero average when nothing is analyzed", func() {
		summary := Summarize(1, 0, nil)
		Expect(summary.AverageTicket).To(BeZero())
	})
})

var _ = Describe("History", func() {
	var purchases []Purchase

	BeforeEach(func() {
		purchases = []Purchase{
			{ItemID: "3", Description: "Aceite", UnitPrice: 12, PurchasedAt: day(3)},
			{ItemID: "1", Description: " aceite ", UnitPrice: 10, PurchasedAt: day(1)},
			{ItemID: "2", Description: "ACEITE", UnitPrice: 0, PurchasedAt: day(2)},
			{ItemID: "4", Description: "Aceite", UnitPrice: 11},
			{ItemID: "5", Description: "Vinagre", UnitPrice: 4, PurchasedAt: day(1)},
		}
	})

	It("returns matching purchases in chronological order", func() {
		history := History(purchases, "ACEITE  ")
		Expect(history).To(HaveLen(2))
		Expect(history[0].ItemID).To(Equal("1"))
		Expect(history[1].ItemID).To(Equal("3"))
	})

	It("returns an empty history for a blank description", func() {
		Expect(History(purchases, "  ")).To(BeEmpty())
	})
})

var _ = Describe("DailySpend", func() {
	It("groups totals by day in ascending order", func() {
		spend := DailySpend([]Purchase{
			{TotalPrice: 5, PurchasedAt: day(2)},
			{TotalPrice: 7, PurchasedAt: day(1)},
			{TotalPrice: 3, PurchasedAt: day(2).Add(3 * time.Hour)},
			{TotalPrice: 100},
		}, 0)
		Expect(spend).To(Equal([]DaySpend{
			{Day: "2024-03-01", Total: 7},
			{Day: "2024-03-02", Total: 8},
		}))
	})

	It("keeps only the most recent days", func() {
		var purchases []Purchase
		for d := 1; d <= 20; d++ {
			purchases = append(purchases, Purchase{TotalPrice: 1, PurchasedAt: day(d)})
		}
		spend := DailySpend(purchases, DefaultChartDays)
		Expect(spend).To(HaveLen(DefaultChartDays))
		Expect(spend[0].Day).To(Equal("2024-03-07"))
		Expect(spend[DefaultChartDays-1].Day).To(Equal("2024-03-20"))
	})
})
