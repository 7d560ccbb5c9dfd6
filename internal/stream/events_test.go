package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-copy-trader/internal/binance"
)

const spotFillJSON = `{
	"e": "executionReport",
	"s": "BTCUSDT",
	"S": "BUY",
	"o": "MARKET",
	"X": "FILLED",
	"x": "TRADE",
	"i": 12345,
	"t": 678,
	"l": "0.50000000",
	"L": "43000.10000000",
	"z": "0.50000000",
	"q": "0.50000000"
}`

func TestDecodeSpotFill(t *testing.T) {
	event, eventType, err := DecodeSpotEvent([]byte(spotFillJSON))

	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "executionReport", eventType)
	assert.Equal(t, "BTCUSDT", event.Symbol)
	assert.Equal(t, binance.SideBuy, event.Side)
	assert.Equal(t, int64(12345), event.OrderID)
	assert.Equal(t, int64(678), event.TradeID)
	assert.Equal(t, 0.5, event.ExecQty)
	assert.Equal(t, 43000.1, event.ExecPrice)
	assert.True(t, event.Filled())
	assert.Equal(t, FillKey{OrderID: 12345, TradeID: 678}, event.Key())
}

func TestDecodeSpotNonTradeExecutionIsDropped(t *testing.T) {
	raw := `{"e": "executionReport", "s": "BTCUSDT", "S": "BUY", "x": "NEW", "i": 1, "t": -1, "l": "0", "z": "0", "q": "1"}`
	event, eventType, err := DecodeSpotEvent([]byte(raw))

	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Equal(t, "executionReport", eventType)
}

func TestDecodeSpotOtherEventIsDropped(t *testing.T) {
	raw := `{"e": "outboundAccountPosition", "u": 123}`
	event, eventType, err := DecodeSpotEvent([]byte(raw))

	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Equal(t, "outboundAccountPosition", eventType)
}

func TestDecodeSpotInvalidJSON(t *testing.T) {
	_, _, err := DecodeSpotEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodeSpotUnknownSide(t *testing.T) {
	raw := `{"e": "executionReport", "s": "BTCUSDT", "S": "HOLD", "x": "TRADE", "i": 1, "t": 2, "l": "1", "L": "10", "z": "1", "q": "1"}`
	_, _, err := DecodeSpotEvent([]byte(raw))
	assert.Error(t, err)
}

const futuresFillJSON = `{
	"e": "ORDER_TRADE_UPDATE",
	"o": {
		"s": "ETHUSDT",
		"S": "SELL",
		"o": "MARKET",
		"X": "PARTIALLY_FILLED",
		"x": "TRADE",
		"i": 999,
		"t": 111,
		"l": "2",
		"L": "2500.5",
		"z": "2",
		"q": "10",
		"ps": "SHORT"
	}
}`

func TestDecodeFuturesFill(t *testing.T) {
	event, eventType, err := DecodeFuturesEvent([]byte(futuresFillJSON))

	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "ORDER_TRADE_UPDATE", eventType)
	assert.Equal(t, "ETHUSDT", event.Symbol)
	assert.Equal(t, binance.SideSell, event.Side)
	assert.Equal(t, binance.PositionShort, event.PositionSide)
	assert.Equal(t, 2.0, event.ExecQty)
	assert.Equal(t, 2500.5, event.ExecPrice)
	assert.Equal(t, 10.0, event.TotalQty)
	assert.False(t, event.Filled())
}

func TestDecodeFuturesAccountUpdateIsDropped(t *testing.T) {
	raw := `{"e": "ACCOUNT_UPDATE", "a": {}}`
	event, eventType, err := DecodeFuturesEvent([]byte(raw))

	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Equal(t, "ACCOUNT_UPDATE", eventType)
}

func TestDecodeFuturesNonTradeExecutionIsDropped(t *testing.T) {
	raw := `{"e": "ORDER_TRADE_UPDATE", "o": {"s": "ETHUSDT", "S": "BUY", "x": "CANCELED", "i": 1, "t": 0, "l": "0", "z": "0", "q": "1"}}`
	event, _, err := DecodeFuturesEvent([]byte(raw))

	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestDecodeFuturesMissingPositionSideDefaultsBoth(t *testing.T) {
	raw := `{"e": "ORDER_TRADE_UPDATE", "o": {"s": "ETHUSDT", "S": "BUY", "x": "TRADE", "i": 5, "t": 6, "l": "1", "L": "2500", "z": "1", "q": "1"}}`
	event, _, err := DecodeFuturesEvent([]byte(raw))

	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, binance.PositionBoth, event.PositionSide)
}

func TestFillKeyString(t *testing.T) {
	assert.Equal(t, "12345_678", FillKey{OrderID: 12345, TradeID: 678}.String())
}
