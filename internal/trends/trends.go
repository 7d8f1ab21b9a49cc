// Package trends derives price analytics from a user's purchase history.
// Everything here is a pure function of its input; nothing is persisted.
package trends

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Direction is the movement of a unit price relative to the previous purchase
type Direction string

const (
	DirectionNew  Direction = "new"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionSame Direction = "same"
)

// DeadZone is the percentage band within which a price counts as unchanged
const DeadZone = 0.5

// Purchase is one invoice line together with the date of its invoice
type Purchase struct {
	ItemID      string
	InvoiceID   string
	Filename    string
	Description string
	Quantity    float64
	UnitPrice   float64
	TotalPrice  float64
	PurchasedAt time.Time
}

// Trend is the price movement of a single item
type Trend struct {
	ChangePercent float64   `json:"change_percent"`
	Direction     Direction `json:"direction"`
}

// NormalizeDescription is the product identity used for grouping
func NormalizeDescription(description string) string {
	return strings.ToLower(strings.TrimSpace(description))
}

var epoch = time.Unix(0, 0).UTC()

// effectiveDate treats a missing date as the Unix epoch
func (p Purchase) effectiveDate() time.Time {
	if p.PurchasedAt.IsZero() {
		return epoch
	}
	return p.PurchasedAt
}

// sortChronologically orders by purchase date, then item id
func sortChronologically(purchases []Purchase) {
	sort.SliceStable(purchases, func(i, j int) bool {
		di, dj := purchases[i].effectiveDate(), purchases[j].effectiveDate()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return purchases[i].ItemID < purchases[j].ItemID
	})
}

func classify(change float64) Direction {
	switch {
	case change > DeadZone:
		return DirectionUp
	case change < -DeadZone:
		return DirectionDown
	default:
		return DirectionSame
	}
}

// Compute returns the trend of every purchase keyed by item id.
// Purchases are grouped by normalized description and each one is compared
// with the previous purchase of the same product.
func Compute(purchases []Purchase) map[string]Trend {
	groups := make(map[string][]Purchase)
	for _, p := range purchases {
		key := NormalizeDescription(p.Description)
		groups[key] = append(groups[key], p)
	}

	result := make(map[string]Trend, len(purchases))
	for _, group := range groups {
		sortChronologically(group)
		for i, current := range group {
			if i == 0 {
				result[current.ItemID] = Trend{Direction: DirectionNew}
				continue
			}
			previous := group[i-1]
			if previous.UnitPrice == 0 {
				result[current.ItemID] = Trend{Direction: DirectionNew}
				continue
			}
			change := (current.UnitPrice - previous.UnitPrice) / previous.UnitPrice * 100
			result[current.ItemID] = Trend{
				ChangePercent: math.Abs(change),
				Direction:     classify(change),
			}
		}
	}
	return result
}
