package prefs

import "encoding/json"

// Document is the partially interpreted shape of a stored preference
// document. The service transports the document as opaque JSON; only the
// batch job reads into it, and only the fields below.
type Document struct {
	Products []Product
}

// Product is one standing-order entry: a variant and the quantity wanted on
// each weekday.
type Product struct {
	VariantID          int64              `json:"variantId"`
	QuantityPerWeekday map[string]float64 `json:"quantityPerWeekday"`
}

// Quantity returns the non-negative integer quantity for a weekday key,
// defaulting to 0 when the key is missing. Fractional values are truncated.
func (p Product) Quantity(weekday string) int {
	quantity := int(p.QuantityPerWeekday[weekday])
	if quantity < 0 {
		return 0
	}
	return quantity
}

// DecodeDocument parses a stored preference document tolerantly: a document
// without a products list, or with entries that do not decode, yields a
// Document with those parts missing rather than an error. A malformed stored
// document must never break a caller.
func DecodeDocument(raw json.RawMessage) Document {
	var envelope struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Document{}
	}

	doc := Document{}
	for _, entry := range envelope.Products {
		var product Product
		if err := json.Unmarshal(entry, &product); err != nil {
			continue
		}
		doc.Products = append(doc.Products, product)
	}
	return doc
}
