package match

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/predictex/exchange-engine/internal/cpmm"
	"github.com/predictex/exchange-engine/internal/fees"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testMatcher() *Matcher {
	return &Matcher{
		Schedule: fees.Schedule{Regime: fees.RegimePlatform},
		Now:      func() time.Time { return testTime },
	}
}

func evenState() cpmm.State {
	return cpmm.NewState(cpmm.Pool{YES: 100, NO: 100}, 0.5, fees.NoFees)
}

func closeTo(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v (tolerance %v)", msg, got, want, tol)
	}
}

func TestComputeFillsPoolOnly(t *testing.T) {
	m := testMatcher()
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, nil, nil, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	if len(res.Takers) != 1 {
		t.Fatalf("takers = %d, want 1", len(res.Takers))
	}
	if res.Takers[0].MatchedOrderID != "" {
		t.Errorf("pool fill should have no matched order, got %q", res.Takers[0].MatchedOrderID)
	}
	closeTo(t, res.Takers[0].Amount, 10, 1e-9, "taker amount")
	closeTo(t, res.Takers[0].Shares, 110-10000.0/110, 1e-9, "taker shares")
	if len(res.Makers) != 0 || len(res.OrdersToCancel) != 0 {
		t.Errorf("unexpected makers %d or cancels %d", len(res.Makers), len(res.OrdersToCancel))
	}
}

func TestComputeFillsMatchesBetterPricedOrder(t *testing.T) {
	m := testMatcher()
	order := &LimitOrder{
		ID:          "o1",
		UserID:      "maker",
		Outcome:     cpmm.No,
		OrderAmount: 60,
		LimitProb:   0.4,
		CreatedTime: testTime.Add(-time.Hour),
	}
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, []*LimitOrder{order}, nil, false)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	// The NO order at 0.4 sells YES below the pool's 0.5, so it fills the
	// whole trade: 10 / 0.4 = 25 shares.
	if len(res.Takers) != 1 || len(res.Makers) != 1 {
		t.Fatalf("takers = %d, makers = %d, want 1 and 1", len(res.Takers), len(res.Makers))
	}
	closeTo(t, res.Takers[0].Shares, 25, 1e-9, "taker shares")
	closeTo(t, res.Takers[0].Amount, 10, 1e-9, "taker amount")
	if res.Takers[0].MatchedOrderID != "o1" {
		t.Errorf("matched order = %q, want o1", res.Takers[0].MatchedOrderID)
	}
	closeTo(t, res.Makers[0].Amount, 15, 1e-9, "maker amount")
	closeTo(t, res.Makers[0].Shares, 25, 1e-9, "maker shares")
	closeTo(t, res.State.Probability(), 0.5, 1e-12, "pool untouched")
	if res.TotalFees.Total() != 0 {
		t.Errorf("maker fills charge no fees, got %v", res.TotalFees.Total())
	}
}

func TestComputeFillsMakerBalanceExhausted(t *testing.T) {
	m := testMatcher()
	order := &LimitOrder{
		ID:          "o1",
		UserID:      "maker",
		Outcome:     cpmm.No,
		OrderAmount: 60,
		LimitProb:   0.4,
		CreatedTime: testTime.Add(-time.Hour),
	}
	balances := map[string]float64{"maker": 6}
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, []*LimitOrder{order}, balances, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	if len(res.Takers) != 2 {
		t.Fatalf("takers = %d, want order fill then pool fill", len(res.Takers))
	}
	// Balance 6 at maker price 0.6 caps the order fill at 10 shares for 4.
	closeTo(t, res.Takers[0].Amount, 4, 1e-9, "order fill amount")
	closeTo(t, res.Takers[0].Shares, 10, 1e-9, "order fill shares")
	closeTo(t, res.Takers[1].Amount, 6, 1e-9, "pool fill amount")
	closeTo(t, res.Takers[1].Shares, 106-10000.0/106, 1e-9, "pool fill shares")
	if len(res.OrdersToCancel) != 1 || res.OrdersToCancel[0].ID != "o1" {
		t.Fatalf("drained maker's order should be cancelled, got %v", res.OrdersToCancel)
	}
	if balances["maker"] != 6 {
		t.Errorf("input balances mutated: %v", balances["maker"])
	}
}

func TestComputeFillsTakerLimitStopsAtPool(t *testing.T) {
	m := testMatcher()
	limit := 0.4
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, &limit, nil, nil, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	if len(res.Takers) != 0 {
		t.Fatalf("limit below pool price should not fill, got %d takers", len(res.Takers))
	}
	closeTo(t, res.State.Probability(), 0.5, 1e-12, "state unchanged")
}

func TestComputeFillsTakerLimitPartialFill(t *testing.T) {
	m := testMatcher()
	limit := 0.6
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 100, &limit, nil, nil, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	if len(res.Takers) != 1 {
		t.Fatalf("takers = %d, want 1", len(res.Takers))
	}
	if res.Takers[0].Amount >= 100 {
		t.Errorf("fill should stop at the limit, amount = %v", res.Takers[0].Amount)
	}
	closeTo(t, res.State.Probability(), 0.6, 1e-6, "final probability at limit")
}

func TestComputeFillsExpiredOrderCancelled(t *testing.T) {
	m := testMatcher()
	expired := testTime.Add(-time.Minute)
	order := &LimitOrder{
		ID:          "o1",
		UserID:      "maker",
		Outcome:     cpmm.No,
		OrderAmount: 60,
		LimitProb:   0.4,
		CreatedTime: testTime.Add(-time.Hour),
		ExpiresAt:   &expired,
	}
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, []*LimitOrder{order}, nil, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	if len(res.Makers) != 0 {
		t.Errorf("expired order must not fill, got %d makers", len(res.Makers))
	}
	if len(res.OrdersToCancel) != 1 || res.OrdersToCancel[0].ID != "o1" {
		t.Fatalf("expired order should be cancelled, got %v", res.OrdersToCancel)
	}
}

func TestComputeFillsPriceTimePriority(t *testing.T) {
	m := testMatcher()
	cheap := &LimitOrder{
		ID: "cheap", UserID: "a", Outcome: cpmm.No, OrderAmount: 2,
		LimitProb: 0.3, CreatedTime: testTime.Add(-time.Minute),
	}
	older := &LimitOrder{
		ID: "older", UserID: "b", Outcome: cpmm.No, OrderAmount: 2,
		LimitProb: 0.4, CreatedTime: testTime.Add(-2 * time.Hour),
	}
	newer := &LimitOrder{
		ID: "newer", UserID: "c", Outcome: cpmm.No, OrderAmount: 2,
		LimitProb: 0.4, CreatedTime: testTime.Add(-time.Hour),
	}
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 3, nil, []*LimitOrder{newer, older, cheap}, nil, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	if len(res.Makers) < 2 {
		t.Fatalf("makers = %d, want at least 2", len(res.Makers))
	}
	if res.Makers[0].Order.ID != "cheap" {
		t.Errorf("best price first: got %q", res.Makers[0].Order.ID)
	}
	if res.Makers[1].Order.ID != "older" {
		t.Errorf("older order first at equal price: got %q", res.Makers[1].Order.ID)
	}
}

func TestComputeFillsValidation(t *testing.T) {
	m := testMatcher()
	if _, err := m.ComputeFills(evenState(), "MAYBE", 10, nil, nil, nil, false); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("invalid outcome: err = %v", err)
	}
	if _, err := m.ComputeFills(evenState(), cpmm.Yes, -1, nil, nil, nil, false); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: err = %v", err)
	}
	if _, err := m.ComputeFills(evenState(), cpmm.Yes, math.NaN(), nil, nil, nil, false); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("NaN amount: err = %v", err)
	}
	bad := math.NaN()
	if _, err := m.ComputeFills(evenState(), cpmm.Yes, 10, &bad, nil, nil, false); !errors.Is(err, ErrInvalidLimitProb) {
		t.Errorf("NaN limit: err = %v", err)
	}
}

func TestComputeFillsChargesTakerFees(t *testing.T) {
	m := testMatcher()
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, nil, nil, false)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	if res.TotalFees.Total() <= 0 {
		t.Fatalf("pool fill should charge fees, got %v", res.TotalFees.Total())
	}
	if res.TotalFees.Platform != res.TotalFees.Total() {
		t.Errorf("platform regime sends all fees to the platform: %+v", res.TotalFees)
	}
	closeTo(t, res.State.CollectedFees.Total(), res.TotalFees.Total(), 1e-12, "state accumulates fees")
}

func TestAmountForSharesFixedPRoundTrip(t *testing.T) {
	m := testMatcher()
	state := evenState()
	targetShares := 110 - 10000.0/110
	amount := m.AmountForShares(state, targetShares, cpmm.Yes, nil, nil, true)
	closeTo(t, amount, 10, 1e-6, "free-fee amount for shares")

	withFees := m.AmountForShares(state, targetShares, cpmm.Yes, nil, nil, false)
	if withFees <= amount {
		t.Errorf("fees must raise the cost: %v <= %v", withFees, amount)
	}
	res, err := m.ComputeFills(state, cpmm.Yes, withFees, nil, nil, nil, false)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	closeTo(t, res.TakerShares(), targetShares, 1e-6, "shares bought by computed amount")
}

func TestAmountForSharesThroughOrders(t *testing.T) {
	m := testMatcher()
	order := &LimitOrder{
		ID: "o1", UserID: "maker", Outcome: cpmm.No, OrderAmount: 3,
		LimitProb: 0.4, CreatedTime: testTime.Add(-time.Hour),
	}
	orders := []*LimitOrder{order}
	amount := m.AmountForShares(evenState(), 30, cpmm.Yes, orders, nil, true)
	res, err := m.ComputeFills(evenState(), cpmm.Yes, amount, nil, orders, nil, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	closeTo(t, res.TakerShares(), 30, 1e-6, "shares across order and pool")
}

func TestAmountForSharesGenericP(t *testing.T) {
	m := testMatcher()
	state := cpmm.NewState(cpmm.Pool{YES: 150, NO: 80}, 0.3, fees.NoFees)
	amount := m.AmountForShares(state, 25, cpmm.Yes, nil, nil, true)
	res, err := m.ComputeFills(state, cpmm.Yes, amount, nil, nil, nil, true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	closeTo(t, res.TakerShares(), 25, 1e-5, "bisection round trip")
}

func TestSaleRoundTrip(t *testing.T) {
	m := testMatcher()
	buy, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, nil, nil, true)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	shares := buy.TakerShares()
	sale, err := m.Sale(buy.State, shares, cpmm.Yes, nil, nil)
	if err != nil {
		t.Fatalf("Sale: %v", err)
	}
	if sale.SaleValue <= 0 || sale.SaleValue >= shares {
		t.Errorf("sale value %v out of range (0, %v)", sale.SaleValue, shares)
	}
	// Fees make the sale worth a bit less than the fee-free purchase.
	if sale.SaleValue >= 10 {
		t.Errorf("sale value %v should be below the purchase amount", sale.SaleValue)
	}
	var soldShares float64
	for _, f := range sale.Takers {
		if !f.IsSale {
			t.Errorf("sale taker not flagged as sale: %+v", f)
		}
		soldShares += -f.Shares
	}
	closeTo(t, soldShares, shares, 1e-6, "all shares sold")
	if sale.State.Probability() >= buy.State.Probability() {
		t.Errorf("selling YES must lower the probability: %v -> %v",
			buy.State.Probability(), sale.State.Probability())
	}
}

func TestSaleNegativeShares(t *testing.T) {
	m := testMatcher()
	if _, err := m.Sale(evenState(), -1, cpmm.Yes, nil, nil); !errors.Is(err, ErrNegativeShares) {
		t.Errorf("err = %v, want ErrNegativeShares", err)
	}
}

func TestBookApplyAndClone(t *testing.T) {
	order := &LimitOrder{
		ID: "o1", UserID: "maker", AnswerID: "a1", Outcome: cpmm.No,
		OrderAmount: 60, LimitProb: 0.4, CreatedTime: testTime.Add(-time.Hour),
	}
	book := NewBook([]*LimitOrder{order}, map[string]float64{"maker": 100})
	if order == book.Orders("a1")[0] {
		t.Fatal("book must hold its own copies of the orders")
	}

	clone := book.Clone()
	m := testMatcher()
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, clone.Orders("a1"), clone.Balances(), true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	clone.Apply("a1", res)

	got := clone.Orders("a1")[0]
	closeTo(t, got.Amount, 15, 1e-9, "maker amount advanced")
	closeTo(t, got.Shares, 25, 1e-9, "maker shares advanced")
	closeTo(t, clone.Balances()["maker"], 85, 1e-9, "maker balance debited")
	if len(got.Fills) != 1 {
		t.Errorf("fills recorded = %d, want 1", len(got.Fills))
	}

	// The parent book is untouched by work on the clone.
	if book.Orders("a1")[0].Amount != 0 || book.Balances()["maker"] != 100 {
		t.Error("clone mutated the parent book")
	}
}

func TestBookApplyRemovesFilledAndCancelled(t *testing.T) {
	small := &LimitOrder{
		ID: "small", UserID: "a", AnswerID: "a1", Outcome: cpmm.No,
		OrderAmount: 1.5, LimitProb: 0.4, CreatedTime: testTime.Add(-time.Hour),
	}
	expAt := testTime.Add(-time.Minute)
	stale := &LimitOrder{
		ID: "stale", UserID: "b", AnswerID: "a1", Outcome: cpmm.No,
		OrderAmount: 10, LimitProb: 0.45, CreatedTime: testTime.Add(-time.Hour),
		ExpiresAt: &expAt,
	}
	book := NewBook([]*LimitOrder{small, stale}, nil)
	m := testMatcher()
	res, err := m.ComputeFills(evenState(), cpmm.Yes, 10, nil, book.Orders("a1"), book.Balances(), true)
	if err != nil {
		t.Fatalf("ComputeFills: %v", err)
	}
	book.Apply("a1", res)
	if len(book.Orders("a1")) != 0 {
		t.Errorf("filled and expired orders should be gone, got %d", len(book.Orders("a1")))
	}
}
