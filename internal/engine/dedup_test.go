package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"binance-copy-trader/internal/stream"
)

func key(order, trade int64) stream.FillKey {
	return stream.FillKey{OrderID: order, TradeID: trade}
}

func TestDedupWindowSeenOrRemember(t *testing.T) {
	w := NewDedupWindow(10)

	assert.False(t, w.SeenOrRemember(key(1, 1)))
	assert.True(t, w.SeenOrRemember(key(1, 1)))
	assert.True(t, w.Seen(key(1, 1)))
	assert.Equal(t, 1, w.Len())
}

func TestDedupWindowDistinguishesTradeIDs(t *testing.T) {
	w := NewDedupWindow(10)

	// 同一订单的两笔部分成交是两个不同的键
	assert.False(t, w.SeenOrRemember(key(100, 1)))
	assert.False(t, w.SeenOrRemember(key(100, 2)))
	assert.Equal(t, 2, w.Len())
}

func TestDedupWindowEvictsOldestWhenFull(t *testing.T) {
	w := NewDedupWindow(3)

	w.Remember(key(1, 1))
	w.Remember(key(2, 2))
	w.Remember(key(3, 3))
	assert.Equal(t, 3, w.Len())

	// 第四个键挤掉最早的
	w.Remember(key(4, 4))
	assert.Equal(t, 3, w.Len())
	assert.False(t, w.Seen(key(1, 1)))
	assert.True(t, w.Seen(key(2, 2)))
	assert.True(t, w.Seen(key(4, 4)))
}

func TestDedupWindowEvictedKeyCanReturn(t *testing.T) {
	w := NewDedupWindow(2)

	w.Remember(key(1, 1))
	w.Remember(key(2, 2))
	w.Remember(key(3, 3)) // 挤掉 (1,1)

	// 被挤出窗口后再次出现会被当作新成交
	assert.False(t, w.SeenOrRemember(key(1, 1)))
}

func TestDedupWindowCapacity(t *testing.T) {
	w := NewDedupWindow(DefaultDedupCapacity)
	assert.Equal(t, 1000, w.Capacity())

	for i := int64(0); i < 1500; i++ {
		w.Remember(key(i, i))
	}
	assert.Equal(t, 1000, w.Len())
	assert.False(t, w.Seen(key(0, 0)))
	assert.True(t, w.Seen(key(1499, 1499)))
}
