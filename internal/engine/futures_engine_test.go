package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"binance-copy-trader/internal/binance"
	"binance-copy-trader/internal/service"
	"binance-copy-trader/internal/stream"
)

// fakeFuturesClient 可配置余额与名义价值校验结果
type fakeFuturesClient struct {
	balance     decimal.Decimal
	balanceErr  error
	notionalErr error
	orderErr    error
	orders      []binance.OrderRequest
}

func (c *fakeFuturesClient) PlaceOrder(ctx context.Context, order binance.OrderRequest) (*binance.OrderResponse, error) {
	c.orders = append(c.orders, order)
	if c.orderErr != nil {
		return nil, c.orderErr
	}
	return &binance.OrderResponse{OrderID: 1, Symbol: order.Symbol, Status: "FILLED"}, nil
}

func (c *fakeFuturesClient) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if c.balanceErr != nil {
		return decimal.Zero, c.balanceErr
	}
	return c.balance, nil
}

func (c *fakeFuturesClient) CheckMinNotional(ctx context.Context, symbol string, quantity, price float64) error {
	return c.notionalErr
}

func futuresTrading() service.TradingConfig {
	return service.TradingConfig{
		FollowerOrderType: "MARKET",
		MinOrderQuantity:  0.001,
		MaxOrderQuantity:  1000,
		Leverage:          10,
		PositionMode:      "one_way",
	}
}

func testFuturesEngine(trading service.TradingConfig, followers ...FuturesFollower) *FuturesEngine {
	return &FuturesEngine{
		trading:   trading,
		followers: followers,
		window:    NewDedupWindow(DefaultDedupCapacity),
		stats:     NewStats(),
		symbols:   NewSymbolFilter(trading.AllowedSymbols, trading.ExcludedSymbols),
		orderType: binance.OrderTypeMarket,
		hedgeMode: trading.PositionMode == "hedge",
		logger:    zap.NewNop(),
	}
}

func futuresFill(qty, price float64, posSide binance.PositionSide) stream.FillEvent {
	return stream.FillEvent{
		Symbol:       "BTCUSDT",
		Side:         binance.SideBuy,
		OrderStatus:  "FILLED",
		OrderID:      1,
		TradeID:      1,
		ExecQty:      qty,
		ExecPrice:    price,
		PositionSide: posSide,
	}
}

func TestFuturesReplicateSubmitsWhenBalanceSufficient(t *testing.T) {
	// 需求保证金: 1 × 43000 / 10 × 1.05 = 4515
	client := &fakeFuturesClient{balance: decimal.NewFromInt(5000)}
	e := testFuturesEngine(futuresTrading(), FuturesFollower{Name: "f1", Scale: 1, Client: client})

	e.handleFill(context.Background(), futuresFill(1, 43000, binance.PositionBoth))

	require.Len(t, client.orders, 1)
	assert.Equal(t, binance.PositionBoth, client.orders[0].PositionSide)
	assert.Equal(t, uint64(1), e.stats.Snapshot().SuccessfulCopies)
}

func TestFuturesReplicateInsufficientBalanceNeverSubmits(t *testing.T) {
	client := &fakeFuturesClient{balance: decimal.NewFromInt(100)}
	e := testFuturesEngine(futuresTrading(), FuturesFollower{Name: "f1", Scale: 1, Client: client})

	e.handleFill(context.Background(), futuresFill(1, 43000, binance.PositionBoth))

	assert.Empty(t, client.orders)
	snap := e.stats.Snapshot()
	assert.Equal(t, uint64(1), snap.InsufficientBalance)
	assert.Equal(t, uint64(1), snap.FailedCopies)
}

func TestFuturesReplicateBalanceCheckErrorTreatedAsInsufficient(t *testing.T) {
	client := &fakeFuturesClient{balanceErr: errors.New("account endpoint down")}
	e := testFuturesEngine(futuresTrading(), FuturesFollower{Name: "f1", Scale: 1, Client: client})

	e.handleFill(context.Background(), futuresFill(1, 43000, binance.PositionBoth))

	assert.Empty(t, client.orders)
	assert.Equal(t, uint64(1), e.stats.Snapshot().InsufficientBalance)
}

func TestFuturesReplicateHedgeModeKeepsMasterPositionSide(t *testing.T) {
	trading := futuresTrading()
	trading.PositionMode = "hedge"
	client := &fakeFuturesClient{balance: decimal.NewFromInt(100000)}
	e := testFuturesEngine(trading, FuturesFollower{Name: "f1", Scale: 1, Client: client})

	e.handleFill(context.Background(), futuresFill(1, 43000, binance.PositionShort))

	require.Len(t, client.orders, 1)
	assert.Equal(t, binance.PositionShort, client.orders[0].PositionSide)
}

func TestFuturesReplicateOneWayModeForcesBoth(t *testing.T) {
	client := &fakeFuturesClient{balance: decimal.NewFromInt(100000)}
	e := testFuturesEngine(futuresTrading(), FuturesFollower{Name: "f1", Scale: 1, Client: client})

	// 主账户流里带 LONG，单向模式下仍然改成 BOTH
	e.handleFill(context.Background(), futuresFill(1, 43000, binance.PositionLong))

	require.Len(t, client.orders, 1)
	assert.Equal(t, binance.PositionBoth, client.orders[0].PositionSide)
}

func TestFuturesReplicateSymbolLeverageOverrideLowersMargin(t *testing.T) {
	trading := futuresTrading()
	trading.SymbolLeverage = map[string]int{"BTCUSDT": 50}
	// 10 倍杠杆下需要 4515，50 倍只需要 903
	client := &fakeFuturesClient{balance: decimal.NewFromInt(1000)}
	e := testFuturesEngine(trading, FuturesFollower{Name: "f1", Scale: 1, Client: client})

	e.handleFill(context.Background(), futuresFill(1, 43000, binance.PositionBoth))

	assert.Len(t, client.orders, 1)
}

func TestFuturesReplicateLimitNotionalPreCheck(t *testing.T) {
	client := &fakeFuturesClient{
		balance:     decimal.NewFromInt(100000),
		notionalErr: binance.ErrNotionalTooSmall,
	}
	e := testFuturesEngine(futuresTrading(), FuturesFollower{Name: "f1", Scale: 1, Client: client})
	e.orderType = binance.OrderTypeLimit

	e.handleFill(context.Background(), futuresFill(0.001, 5000, binance.PositionBoth))

	assert.Empty(t, client.orders)
	assert.Equal(t, uint64(1), e.stats.Snapshot().MinNotionalRejected)
}

func TestFuturesReplicateLimitOrderCarriesPrice(t *testing.T) {
	client := &fakeFuturesClient{balance: decimal.NewFromInt(100000)}
	e := testFuturesEngine(futuresTrading(), FuturesFollower{Name: "f1", Scale: 1, Client: client})
	e.orderType = binance.OrderTypeLimit

	e.handleFill(context.Background(), futuresFill(1, 43000, binance.PositionBoth))

	require.Len(t, client.orders, 1)
	assert.Equal(t, 43000.0, client.orders[0].Price)
}
