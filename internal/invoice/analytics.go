package invoice

import (
	"context"

	"github.com/franmartos11/mvm-facturas/internal/trends"
)

// Dashboard is the summary view of the owner's spending
type Dashboard struct {
	trends.Summary
	DailySpend []trends.DaySpend `json:"daily_spend"`
}

// HistoryEntry is one purchase of a product
type HistoryEntry struct {
	ItemID    string  `json:"item_id"`
	InvoiceID string  `json:"invoice_id"`
	Filename  string  `json:"filename"`
	Date      string  `json:"date"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func toPurchases(items []*ItemWithInvoice) []trends.Purchase {
	purchases := make([]trends.Purchase, 0, len(items))
	for _, item := range items {
		purchases = append(purchases, trends.Purchase{
			ItemID:      item.ID,
			InvoiceID:   item.InvoiceID,
			Filename:    item.Invoice.Filename,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			PurchasedAt: item.Invoice.CreatedAt,
		})
	}
	return purchases
}

// Trends computes the price trend of every item the owner has bought
func (s *Service) Trends(ctx context.Context, ownerID string) (map[string]trends.Trend, error) {
	items, err := s.ListAllItems(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	return trends.Compute(toPurchases(items)), nil
}

// ProductHistory returns every dated purchase of a product, oldest first
func (s *Service) ProductHistory(ctx context.Context, ownerID, description string) ([]HistoryEntry, error) {
	items, err := s.ListAllItems(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	history := trends.History(toPurchases(items), description)
	entries := make([]HistoryEntry, 0, len(history))
	for _, p := range history {
		entries = append(entries, HistoryEntry{
			ItemID:    p.ItemID,
			InvoiceID: p.InvoiceID,
			Filename:  p.Filename,
			Date:      p.PurchasedAt.UTC().Format("2006-01-02"),
			Quantity:  p.Quantity,
			UnitPrice: p.UnitPrice,
		})
	}
	return entries, nil
}

// Dashboard returns the owner's spend summary and daily spend over the last days
func (s *Service) Dashboard(ctx context.Context, ownerID string, days int) (*Dashboard, error) {
	invoices, err := s.ListInvoices(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items, err := s.ListAllItems(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}

	analyzed := 0
	for _, inv := range invoices {
		if inv.Status == StatusAnalyzed {
			analyzed++
		}
	}
	purchases := toPurchases(items)
	return &Dashboard{
		Summary:    trends.Summarize(len(invoices), analyzed, purchases),
		DailySpend: trends.DailySpend(purchases, days),
	}, nil
}
