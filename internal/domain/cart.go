package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Product is the catalog record for a product. ID, Title, Price and Image are
// typed; every other attribute of the record is kept verbatim in Attrs and
// written back out next to them, so the snapshot carries the whole record.
type Product struct {
	ID    int
	Title string
	Price decimal.Decimal
	Image string
	Attrs map[string]json.RawMessage
}

func (p Product) fields() (map[string]json.RawMessage, error) {
	m := make(map[string]json.RawMessage, len(p.Attrs)+4)
	for k, v := range p.Attrs {
		m[k] = v
	}
	title, err := json.Marshal(p.Title)
	if err != nil {
		return nil, err
	}
	image, err := json.Marshal(p.Image)
	if err != nil {
		return nil, err
	}
	m["id"] = json.RawMessage(strconv.Itoa(p.ID))
	m["title"] = title
	// Prices stay JSON numbers, as the catalog sends them.
	m["price"] = json.RawMessage(p.Price.String())
	m["image"] = image
	return m, nil
}

func (p *Product) setFields(m map[string]json.RawMessage) error {
	*p = Product{}
	take := func(key string, dst any) error {
		raw, ok := m[key]
		if !ok {
			return nil
		}
		delete(m, key)
		if string(raw) == "null" {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("product %s: %w", key, err)
		}
		return nil
	}
	if err := take("id", &p.ID); err != nil {
		return err
	}
	if err := take("title", &p.Title); err != nil {
		return err
	}
	if err := take("price", &p.Price); err != nil {
		return err
	}
	if err := take("image", &p.Image); err != nil {
		return err
	}
	if len(m) > 0 {
		p.Attrs = m
	}
	return nil
}

func (p Product) MarshalJSON() ([]byte, error) {
	m, err := p.fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m == nil {
		return errors.New("product: null record")
	}
	return p.setFields(m)
}

// LineItem is one product in the cart together with its quantity.
// Amount is always at least 1.
type LineItem struct {
	Product
	Amount int
}

// MarshalJSON flattens the product record and adds "amount".
func (li LineItem) MarshalJSON() ([]byte, error) {
	m, err := li.Product.fields()
	if err != nil {
		return nil, err
	}
	m["amount"] = json.RawMessage(strconv.Itoa(li.Amount))
	return json.Marshal(m)
}

func (li *LineItem) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m == nil {
		return errors.New("line item: null record")
	}
	var amount int
	if raw, ok := m["amount"]; ok {
		if err := json.Unmarshal(raw, &amount); err != nil {
			return fmt.Errorf("line item amount: %w", err)
		}
		delete(m, "amount")
	}
	if err := li.Product.setFields(m); err != nil {
		return err
	}
	li.Amount = amount
	return nil
}

// Subtotal returns price × amount.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Amount)))
}

// Cart is the ordered list of line items, in insertion order. A product ID
// appears at most once.
type Cart []LineItem

// Find returns the index of the line for productID, or -1.
func (c Cart) Find(productID int) int {
	for i := range c {
		if c[i].ID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no backing array with c. A nil cart
// clones to an empty, non-nil one so it serializes as [].
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// ItemCount returns the total number of units across all lines.
func (c Cart) ItemCount() int {
	var n int
	for _, li := range c {
		n += li.Amount
	}
	return n
}

// Validate reports a line with an amount below 1 or a product ID that
// appears more than once.
func (c Cart) Validate() error {
	seen := make(map[int]struct{}, len(c))
	for i, li := range c {
		if li.Amount < 1 {
			return fmt.Errorf("line %d: product %d has amount %d", i, li.ID, li.Amount)
		}
		if _, dup := seen[li.ID]; dup {
			return fmt.Errorf("line %d: product %d appears more than once", i, li.ID)
		}
		seen[li.ID] = struct{}{}
	}
	return nil
}

func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range c {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Stock is the available quantity of a product as reported by the catalog.
type Stock struct {
	ProductID int `json:"productId"`
	Amount    int `json:"amount"`
}
