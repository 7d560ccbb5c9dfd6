// internal/engine/dedup.go
package engine

import (
	"sync"

	"binance-copy-trader/internal/stream"
)

// DedupWindow 有界的成交去重窗口
// 环形缓冲区按 FIFO 保存最近见过的去重键，写满后覆盖最旧的键
// 容量是按条数计的上界，不是时间窗口
type DedupWindow struct {
	mu       sync.Mutex
	capacity int
	ring     []stream.FillKey
	next     int // 下一个写入槽位
	size     int
	index    map[stream.FillKey]struct{}
}

// DefaultDedupCapacity 与参考行为一致的缺省容量
const DefaultDedupCapacity = 1000

// NewDedupWindow 构造固定容量的去重窗口
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupWindow{
		capacity: capacity,
		ring:     make([]stream.FillKey, capacity),
		index:    make(map[stream.FillKey]struct{}, capacity),
	}
}

// Seen 判断键是否在窗口内
func (w *DedupWindow) Seen(key stream.FillKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.index[key]
	return ok
}

// Remember 记录键，窗口已满时淘汰最旧的键
func (w *DedupWindow) Remember(key stream.FillKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.remember(key)
}

// SeenOrRemember 原子地完成查重与记录
// 返回真表示键已存在（重复投递）；返回假时键已被记录，
// 因此同一笔成交在任何并发扇出下都至多触发一次复制
func (w *DedupWindow) SeenOrRemember(key stream.FillKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.index[key]; ok {
		return true
	}
	w.remember(key)
	return false
}

func (w *DedupWindow) remember(key stream.FillKey) {
	if w.size == w.capacity {
		delete(w.index, w.ring[w.next])
	} else {
		w.size++
	}
	w.ring[w.next] = key
	w.index[key] = struct{}{}
	w.next = (w.next + 1) % w.capacity
}

// Len 当前窗口内的键数
func (w *DedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Capacity 窗口容量
func (w *DedupWindow) Capacity() int {
	return w.capacity
}
