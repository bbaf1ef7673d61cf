package engine

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTIONS - Immutable sale / exchange facts
// =============================================================================

type TransactionKind string

const (
	KindSale     TransactionKind = "sale"
	KindExchange TransactionKind = "exchange"
)

// TransactionSource distinguishes recorded facts from hypothetical inputs.
type TransactionSource string

const (
	SourceRecorded  TransactionSource = "recorded"
	SourceSimulated TransactionSource = "simulated"
)

// TransactionLine is one product on a transaction.
type TransactionLine struct {
	ProductID ProductID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Serials   []string        `json:"serials,omitempty"` // IMEI / serial numbers
}

// Value is Quantity × UnitPrice.
func (l TransactionLine) Value() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// TradeIn is the old device handed in on an exchange.
type TradeIn struct {
	Description string          `json:"description,omitempty"`
	Value       decimal.Decimal `json:"value"`
}

// Transaction is an immutable sale or exchange fact. Corrections are new
// transactions with Reverses set; nothing is ever edited in place.
type Transaction struct {
	ID         TransactionID     `json:"id"`
	Kind       TransactionKind   `json:"kind"`
	DealerID   DealerID          `json:"dealer_id"`
	Date       Date              `json:"date"`
	Lines      []TransactionLine `json:"lines"`
	TradeIn    *TradeIn          `json:"trade_in,omitempty"`
	Reverses   TransactionID     `json:"reverses,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Source     TransactionSource `json:"source"`
	Seq        int64             `json:"seq,omitempty"` // assigned by the store on append
	RecordedAt time.Time         `json:"recorded_at,omitempty"`
}

// IsReversal reports whether this transaction offsets another.
func (t Transaction) IsReversal() bool { return t.Reverses != "" }

// TotalQuantity sums line quantities.
func (t Transaction) TotalQuantity() int {
	n := 0
	for _, l := range t.Lines {
		n += l.Quantity
	}
	return n
}

// TotalValue sums line values.
func (t Transaction) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, l := range t.Lines {
		total = total.Add(l.Value())
	}
	return total
}

// ProductQuantities aggregates quantities per product across lines.
func (t Transaction) ProductQuantities() map[ProductID]int {
	out := make(map[ProductID]int, len(t.Lines))
	for _, l := range t.Lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}

// ProductIDs returns the distinct products on the transaction, sorted.
func (t Transaction) ProductIDs() []ProductID {
	seen := make(map[ProductID]bool, len(t.Lines))
	var ids []ProductID
	for _, l := range t.Lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate checks the static shape of a transaction submitted for
// calculation. Reversal transactions are built by the engine and skip it.
func (t Transaction) Validate() error {
	var is issues
	if t.ID == "" {
		is.add("id", "required", "transaction id is required")
	}
	if t.DealerID == "" {
		is.add("dealer_id", "required", "dealer id is required")
	}
	if t.Date.IsZero() {
		is.add("date", "required", "transaction date is required")
	}
	switch t.Kind {
	case KindSale:
		if t.TradeIn != nil {
			is.add("trade_in", "unexpected", "trade-in is only allowed on exchange transactions")
		}
	case KindExchange:
		if len(t.Lines) != 1 {
			is.add("lines", "exchange_single_line", "an exchange carries exactly one new product line")
		}
		if t.TradeIn == nil {
			is.add("trade_in", "required", "exchange transactions require a trade-in")
		} else if t.TradeIn.Value.IsNegative() {
			is.add("trade_in.value", "negative", "trade-in value must be >= 0")
		}
	default:
		is.add("kind", "unknown_kind", "unknown transaction kind %q", t.Kind)
	}
	if len(t.Lines) == 0 {
		is.add("lines", "required", "at least one line is required")
	}
	for i, l := range t.Lines {
		if l.ProductID == "" {
			is.add(lineField(i, "product_id"), "required", "product id is required")
		}
		if l.Quantity <= 0 {
			is.add(lineField(i, "quantity"), "non_positive", "quantity must be > 0")
		}
		if l.UnitPrice.IsNegative() {
			is.add(lineField(i, "unit_price"), "negative", "unit price must be >= 0")
		}
	}
	return is.err()
}

// Reversal builds the offsetting correction for t.
func (t Transaction) Reversal(id TransactionID, date Date, reason string) Transaction {
	lines := make([]TransactionLine, len(t.Lines))
	for i, l := range t.Lines {
		lines[i] = TransactionLine{
			ProductID: l.ProductID,
			Quantity:  -l.Quantity,
			UnitPrice: l.UnitPrice,
			Serials:   append([]string(nil), l.Serials...),
		}
	}
	var tradeIn *TradeIn
	if t.TradeIn != nil {
		tradeIn = &TradeIn{Description: t.TradeIn.Description, Value: t.TradeIn.Value.Neg()}
	}
	return Transaction{
		ID:       id,
		Kind:     t.Kind,
		DealerID: t.DealerID,
		Date:     date,
		Lines:    lines,
		TradeIn:  tradeIn,
		Reverses: t.ID,
		Reason:   reason,
		Source:   t.Source,
	}
}

// recordedBefore reports whether a was recorded ahead of b in ledger order:
// by date, then by store sequence.
func recordedBefore(a, b Transaction) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.Seq < b.Seq
}

func lineField(i int, name string) string {
	return "lines[" + strconv.Itoa(i) + "]." + name
}
