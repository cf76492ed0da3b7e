package match

// Book is the working ledger threaded through a multi-leg trade: the open
// orders per answer plus the maker balances they draw on. A solver clones the
// book before probing and applies each committed Result to its clone, so
// sequential legs observe the order consumption and balance debits of the
// legs before them while the caller's data stays untouched.
type Book struct {
	ordersByAnswer map[string][]*LimitOrder
	balances       map[string]float64
}

// NewBook builds a book from open orders grouped by answer ID and a balance
// map. Orders and balances are deep-copied.
func NewBook(orders []*LimitOrder, balances map[string]float64) *Book {
	b := &Book{
		ordersByAnswer: make(map[string][]*LimitOrder),
		balances:       make(map[string]float64, len(balances)),
	}
	for _, o := range orders {
		b.ordersByAnswer[o.AnswerID] = append(b.ordersByAnswer[o.AnswerID], o.Clone())
	}
	for k, v := range balances {
		b.balances[k] = v
	}
	return b
}

// Clone returns a deep copy of the book.
func (b *Book) Clone() *Book {
	c := &Book{
		ordersByAnswer: make(map[string][]*LimitOrder, len(b.ordersByAnswer)),
		balances:       make(map[string]float64, len(b.balances)),
	}
	for id, orders := range b.ordersByAnswer {
		cp := make([]*LimitOrder, len(orders))
		for i, o := range orders {
			cp[i] = o.Clone()
		}
		c.ordersByAnswer[id] = cp
	}
	for k, v := range b.balances {
		c.balances[k] = v
	}
	return c
}

// Orders returns the book's open orders for an answer. The slice and the
// orders it holds belong to the book; matching never mutates them, and Apply
// is the only way to consume them.
func (b *Book) Orders(answerID string) []*LimitOrder {
	return b.ordersByAnswer[answerID]
}

// Balances returns the book's maker balance map.
func (b *Book) Balances() map[string]float64 {
	return b.balances
}

// Apply folds a matching result for one answer into the book: maker orders
// are advanced by their fills and removed once full, maker balances are
// debited, and cancelled orders are dropped.
func (b *Book) Apply(answerID string, res *Result) {
	for i := range res.Makers {
		mf := &res.Makers[i]
		o := mf.Order
		o.Amount += mf.Amount
		o.Shares += mf.Shares
		o.Fills = append(o.Fills, Fill{
			Amount:    mf.Amount,
			Shares:    mf.Shares,
			Timestamp: mf.Timestamp,
			Kind:      KindDirect,
		})
		if bal, ok := b.balances[o.UserID]; ok {
			b.balances[o.UserID] = bal - mf.Amount
		}
		if o.Filled() {
			b.remove(answerID, o.ID)
		}
	}
	for _, o := range res.OrdersToCancel {
		b.remove(answerID, o.ID)
	}
}

func (b *Book) remove(answerID, orderID string) {
	orders := b.ordersByAnswer[answerID]
	for i, o := range orders {
		if o.ID == orderID {
			b.ordersByAnswer[answerID] = append(orders[:i], orders[i+1:]...)
			return
		}
	}
}
