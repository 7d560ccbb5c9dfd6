// internal/binance/clock.go
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServerClock 跟踪本地时间与交易所服务器时间的偏移
// 所有签名请求都使用 本地时间 + 偏移 作为 timestamp
type ServerClock struct {
	httpClient *http.Client
	endpoint   string // 服务器时间接口完整 URL
	logger     *zap.Logger

	nowFn func() time.Time // 测试注入

	mu     sync.RWMutex
	offset int64 // 毫秒, serverTime - localTime
}

// NewServerClock 构造对时器，不自动触发首次同步
func NewServerClock(httpClient *http.Client, endpoint string, logger *zap.Logger) *ServerClock {
	return &ServerClock{
		httpClient: httpClient,
		endpoint:   endpoint,
		logger:     logger,
		nowFn:      time.Now,
	}
}

// Sync 查询服务器时间并记录偏移，失败时保留旧偏移
func (c *ServerClock) Sync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("query server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query server time: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode server time: %w", err)
	}

	local := c.nowFn().UnixMilli()
	c.mu.Lock()
	c.offset = body.ServerTime - local
	offset := c.offset
	c.mu.Unlock()

	c.logger.Debug("Time synchronized", zap.Int64("OffsetMs", offset))
	return nil
}

// SyncWithRetry 用于合约引擎的启动对时：失败重试，最终失败视为致命
func (c *ServerClock) SyncWithRetry(ctx context.Context, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = c.Sync(ctx); lastErr == nil {
			return nil
		}
		c.logger.Warn("Time sync failed, retrying...",
			zap.Int("Attempt", i+1), zap.Int("MaxAttempts", attempts), zap.Error(lastErr))
		if i < attempts-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("time synchronization failed after %d attempts: %w", attempts, lastErr)
}

// Now 返回校正后的毫秒时间戳
func (c *ServerClock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nowFn().UnixMilli() + c.offset
}

// Offset 返回当前记录的偏移（毫秒）
func (c *ServerClock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
