// internal/engine/stats.go
package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats 进程生命周期内的复制统计，只在引擎重启时清零
type Stats struct {
	mu                  sync.Mutex
	startTime           time.Time
	totalFills          uint64
	successfulCopies    uint64
	failedCopies        uint64
	duplicatesFiltered  uint64
	insufficientBalance uint64
	minNotionalRejected uint64
}

// Snapshot 统计的只读快照
type Snapshot struct {
	StartTime           time.Time
	TotalFills          uint64
	SuccessfulCopies    uint64
	FailedCopies        uint64
	DuplicatesFiltered  uint64
	InsufficientBalance uint64
	MinNotionalRejected uint64
}

// SuccessRate 成功率（百分比），没有任何尝试时返回 0
func (s Snapshot) SuccessRate() float64 {
	total := s.SuccessfulCopies + s.FailedCopies
	if total == 0 {
		return 0
	}
	return float64(s.SuccessfulCopies) / float64(total) * 100
}

// NewStats 构造统计器并记录启动时间
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) RecordFill() {
	s.mu.Lock()
	s.totalFills++
	s.mu.Unlock()
}

func (s *Stats) RecordSuccess() {
	s.mu.Lock()
	s.successfulCopies++
	s.mu.Unlock()
}

func (s *Stats) RecordFailure() {
	s.mu.Lock()
	s.failedCopies++
	s.mu.Unlock()
}

func (s *Stats) RecordDuplicate() {
	s.mu.Lock()
	s.duplicatesFiltered++
	s.mu.Unlock()
}

// RecordInsufficientBalance 余额不足，同时计入失败
func (s *Stats) RecordInsufficientBalance() {
	s.mu.Lock()
	s.insufficientBalance++
	s.failedCopies++
	s.mu.Unlock()
}

// RecordNotionalRejected 名义价值过小，同时计入失败
func (s *Stats) RecordNotionalRejected() {
	s.mu.Lock()
	s.minNotionalRejected++
	s.failedCopies++
	s.mu.Unlock()
}

// Snapshot 返回当前计数的拷贝
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		StartTime:           s.startTime,
		TotalFills:          s.totalFills,
		SuccessfulCopies:    s.successfulCopies,
		FailedCopies:        s.failedCopies,
		DuplicatesFiltered:  s.duplicatesFiltered,
		InsufficientBalance: s.insufficientBalance,
		MinNotionalRejected: s.minNotionalRejected,
	}
}

// LogSummary 输出运行摘要，引擎停止时调用
func (s *Stats) LogSummary(logger *zap.Logger) {
	snap := s.Snapshot()
	logger.Info("Copy trading statistics",
		zap.Duration("Runtime", time.Since(snap.StartTime)),
		zap.Uint64("TotalFills", snap.TotalFills),
		zap.Uint64("SuccessfulCopies", snap.SuccessfulCopies),
		zap.Uint64("FailedCopies", snap.FailedCopies),
		zap.Uint64("InsufficientBalance", snap.InsufficientBalance),
		zap.Uint64("MinNotionalRejected", snap.MinNotionalRejected),
		zap.Uint64("DuplicatesFiltered", snap.DuplicatesFiltered),
		zap.Float64("SuccessRatePct", snap.SuccessRate()))
}
