package domain

import "time"

// Quantity bounds for a single cart line.
const (
	MinQuantity = 1
	MaxQuantity = 999
)

// CartAction reports what an add did to the line.
type CartAction string

const (
	ActionCreated CartAction = "created"
	ActionUpdated CartAction = "updated"
)

// CartLine is one product entry in an owner's cart.
// At most one line exists per (owner, product).
type CartLine struct {
	Owner     CartOwner `json:"owner"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartItem is a cart line joined with current catalog data.
type CartItem struct {
	ProductID      int64     `json:"product_id"`
	Title          string    `json:"title"`
	Quantity       int       `json:"quantity"`
	PriceCents     int64     `json:"price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
	AddedAt        time.Time `json:"added_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CartView is the read model returned by a cart listing. Totals are always
// derived from current prices and never stored.
type CartView struct {
	Owner            CartOwner  `json:"owner"`
	Items            []CartItem `json:"items"`
	TotalItems       int        `json:"total_items"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	TotalAmount      string     `json:"total_amount"`

	// RemovedItems counts lines deleted by the self-healing read.
	RemovedItems int `json:"removed_items"`
}

// CartSummary is the lightweight count and subtotal for a cart badge.
type CartSummary struct {
	ItemCount     int    `json:"item_count"`
	SubtotalCents int64  `json:"subtotal_cents"`
	Subtotal      string `json:"subtotal"`
}

// ValidatedCartSnapshot is a transient, integrity-filtered view of a cart
// handed to checkout. Every item refers to a product that existed when the
// snapshot was taken.
type ValidatedCartSnapshot struct {
	Owner         CartOwner
	Items         []CartItem
	RemovedItems  int
	TotalItems    int
	SubtotalCents int64
	TakenAt       time.Time
}

// IsEmpty reports whether the snapshot has no lines.
func (s *ValidatedCartSnapshot) IsEmpty() bool {
	return s == nil || len(s.Items) == 0
}

// OrderedLines names the lines an order built from this snapshot consumes.
// AsOf is the latest line change the snapshot read, in storage time.
func (s *ValidatedCartSnapshot) OrderedLines() OrderedLines {
	lines := OrderedLines{ProductIDs: make([]int64, 0, len(s.Items))}
	for _, it := range s.Items {
		lines.ProductIDs = append(lines.ProductIDs, it.ProductID)
		if it.UpdatedAt.After(lines.AsOf) {
			lines.AsOf = it.UpdatedAt
		}
	}
	return lines
}

// OrderedLines identifies the cart lines to clear once an order commits.
// A line changed after AsOf was edited by the owner after checkout read the
// cart and is kept.
type OrderedLines struct {
	ProductIDs []int64
	AsOf       time.Time
}

// IsZero reports whether there is nothing to clear.
func (l OrderedLines) IsZero() bool {
	return len(l.ProductIDs) == 0
}

// NewCartView derives totals from items.
func NewCartView(owner CartOwner, items []CartItem, removed int) *CartView {
	v := &CartView{Owner: owner, Items: items, RemovedItems: removed}
	if v.Items == nil {
		v.Items = []CartItem{}
	}
	for _, it := range items {
		v.TotalItems += it.Quantity
		v.TotalAmountCents += it.LineTotalCents
	}
	v.TotalAmount = FormatCents(v.TotalAmountCents)
	return v
}

// ClampQuantity bounds n to [MinQuantity, MaxQuantity].
func ClampQuantity(n int) int {
	if n < MinQuantity {
		return MinQuantity
	}
	if n > MaxQuantity {
		return MaxQuantity
	}
	return n
}

// MergeResult reports a guest-to-customer cart transfer.
type MergeResult struct {
	TransferredItems int          `json:"transferred_items"`
	MergedItems      int          `json:"merged_items"`
	Errors           []MergeError `json:"errors"`
}

// MergeError records one line that could not be merged.
type MergeError struct {
	ProductID int64  `json:"product_id"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// CleanupResult reports a guest cart expiry sweep.
type CleanupResult struct {
	ExpiryHours    int       `json:"expiry_hours"`
	Cutoff         time.Time `json:"cutoff"`
	GuestsAffected int64     `json:"guests_affected"`
	LinesDeleted   int64     `json:"lines_deleted"`
}

// GuestCartStats is a read-only observability view over guest carts.
type GuestCartStats struct {
	DistinctGuests          int64      `json:"distinct_guests"`
	TotalLines              int64      `json:"total_lines"`
	TotalQuantity           int64      `json:"total_quantity"`
	AverageLinesPerGuest    float64    `json:"average_lines_per_guest"`
	AverageQuantityPerGuest float64    `json:"average_quantity_per_guest"`
	OldestLineAt            *time.Time `json:"oldest_line_at"`
}
