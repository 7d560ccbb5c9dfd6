package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsEncodePreservesInsertionOrder(t *testing.T) {
	p := newParams().
		Add("symbol", "BTCUSDT").
		Add("side", "BUY").
		AddInt("timestamp", 1499827319559)

	assert.Equal(t, "symbol=BTCUSDT&side=BUY&timestamp=1499827319559", p.Encode())
}

func TestParamsEncodeEmpty(t *testing.T) {
	assert.Equal(t, "", newParams().Encode())
}

func TestParamsHasGet(t *testing.T) {
	p := newParams().Add("symbol", "ETHUSDT")
	assert.True(t, p.Has("symbol"))
	assert.False(t, p.Has("timestamp"))
	assert.Equal(t, "ETHUSDT", p.Get("symbol"))
	assert.Equal(t, "", p.Get("missing"))
}

// 官方文档的签名示例向量
func TestSignKnownVector(t *testing.T) {
	secret := []byte("NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j")

	p := newParams().
		Add("symbol", "LTCBTC").
		Add("side", "BUY").
		Add("type", "LIMIT").
		Add("timeInForce", "GTC").
		Add("quantity", "1").
		Add("price", "0.1").
		Add("recvWindow", "5000").
		Add("timestamp", "1499827319559")
	p.sign(secret)

	require.True(t, p.Has("signature"))
	assert.Equal(t,
		"c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71",
		p.Get("signature"))
}

func TestSignAppendsSignatureLast(t *testing.T) {
	p := newParams().Add("a", "1").Add("b", "2")
	p.sign([]byte("secret"))

	require.Len(t, p.keys, 3)
	assert.Equal(t, "signature", p.keys[2])
}
