package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// UnknownSupplier is used when the model cannot name the supplier
const UnknownSupplier = "Unknown"

// ErrMalformed is returned when model output is not one of the accepted shapes
var ErrMalformed = errors.New("malformed model output")

// Shape identifies which accepted response form was parsed
type Shape int

const (
	// ShapeItemList is a bare JSON array of line items
	ShapeItemList Shape = iota + 1
	// ShapeEnvelope is an object with supplier and items
	ShapeEnvelope
)

func (s Shape) String() string {
	switch s {
	case ShapeItemList:
		return "item_list"
	case ShapeEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// LineItem is one extracted invoice line
type LineItem struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	TotalPrice  float64
}

// Result is a successfully parsed model response
type Result struct {
	Shape    Shape
	Supplier string
	Items    []LineItem
}

type lineItemJSON struct {
	Description *string `json:"description"`
	Quantity    *amount `json:"quantity"`
	UnitPrice   *amount `json:"unit_price"`
	TotalPrice  *amount `json:"total_price"`
}

// empty reports whether the entry carries none of the line item fields
func (l *lineItemJSON) empty() bool {
	return l.Description == nil && l.Quantity == nil && l.UnitPrice == nil && l.TotalPrice == nil
}

func (a *amount) value() float64 {
	if a == nil {
		return 0
	}
	return float64(*a)
}

type envelopeJSON struct {
	Supplier *string          `json:"supplier"`
	Items    *[]*lineItemJSON `json:"items"`
}

// amount accepts a JSON number, a numeric string or null
type amount float64

func (a *amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(str), "$"))
		if s == "" {
			*a = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", string(data))
	}
	*a = amount(f)
	return nil
}

// stripFences removes markdown code fences the model may wrap its answer in
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// locateJSON cuts the outermost JSON array or object out of surrounding prose
func locateJSON(text string) (string, error) {
	start := strings.IndexAny(text, "[{")
	if start == -1 {
		return "", fmt.Errorf("%w: no JSON value found", ErrMalformed)
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return "", fmt.Errorf("%w: unterminated JSON value", ErrMalformed)
	}
	return text[start : end+1], nil
}

// ParseResponse parses model text into one of the two accepted shapes:
// a bare array of items, or an object with supplier and items.
// Anything else fails with ErrMalformed.
func ParseResponse(text string) (*Result, error) {
	raw, err := locateJSON(stripFences(text))
	if err != nil {
		return nil, err
	}

	result := &Result{Supplier: UnknownSupplier}
	var items []*lineItemJSON

	switch raw[0] {
	case '[':
		result.Shape = ShapeItemList
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		result.Shape = ShapeEnvelope
		var env envelopeJSON
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Items == nil {
			return nil, fmt.Errorf("%w: object has no items array", ErrMalformed)
		}
		items = *env.Items
		if env.Supplier != nil {
			if supplier := strings.TrimSpace(*env.Supplier); supplier != "" {
				result.Supplier = supplier
			}
		}
	}

	result.Items = make([]LineItem, 0, len(items))
	for i, item := range items {
		if item == nil || item.empty() {
			return nil, fmt.Errorf("%w: item %d is empty", ErrMalformed, i)
		}
		line := LineItem{
			Quantity:   item.Quantity.value(),
			UnitPrice:  item.UnitPrice.value(),
			TotalPrice: item.TotalPrice.value(),
		}
		if item.Description != nil {
			line.Description = strings.TrimSpace(*item.Description)
		}
		if line.Quantity < 0 || line.UnitPrice < 0 || line.TotalPrice < 0 {
			return nil, fmt.Errorf("%w: item %d has a negative value", ErrMalformed, i)
		}
		result.Items = append(result.Items, line)
	}

	return result, nil
}
