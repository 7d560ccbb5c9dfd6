package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn 由测试投喂消息，关闭后读取报错
type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{
		msgs:   make(chan []byte, len(msgs)+1),
		closed: make(chan struct{}),
	}
	for _, m := range msgs {
		c.msgs <- []byte(m)
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.msgs:
		return 1, m, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeKeys 记录令牌操作次数
type fakeKeys struct {
	mu           sync.Mutex
	createCalls  int
	keepCalls    int
	closeCalls   int
	createErr    error
	keepaliveErr error
}

func (f *fakeKeys) CreateListenKey(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return fmt.Sprintf("key-%d", f.createCalls), nil
}

func (f *fakeKeys) KeepaliveListenKey(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepCalls++
	return f.keepaliveErr
}

func (f *fakeKeys) CloseListenKey(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeKeys) counts() (create, keep, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.keepCalls, f.closeCalls
}

func testSessionConfig() Config {
	return Config{
		StreamURL:            "wss://example/ws/",
		ReconnectEnabled:     true,
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 2,
		KeepaliveInterval:    time.Hour,
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestSessionDeliversDecodedFills(t *testing.T) {
	conn := newFakeConn(
		`{"e": "outboundAccountPosition"}`,
		spotFillJSON,
	)
	keys := &fakeKeys{}

	s := NewSession(testSessionConfig(), keys, DecodeSpotEvent, zap.NewNop())
	s.dial = func(url string) (Conn, error) {
		assert.Equal(t, "wss://example/ws/key-1", url)
		return conn, nil
	}

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateConnected, s.State())

	select {
	case event := <-s.Events():
		assert.Equal(t, "BTCUSDT", event.Symbol)
		assert.Equal(t, int64(12345), event.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("no fill event delivered")
	}

	s.Stop()
	waitDone(t, s)
	assert.Equal(t, StateStopped, s.State())

	_, _, closed := keys.counts()
	assert.Equal(t, 1, closed)
}

func TestSessionReconnectsWithFreshListenKey(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn(spotFillJSON)
	keys := &fakeKeys{}

	var dialMu sync.Mutex
	var dials []string
	s := NewSession(testSessionConfig(), keys, DecodeSpotEvent, zap.NewNop())
	s.dial = func(url string) (Conn, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		dials = append(dials, url)
		if len(dials) == 1 {
			return first, nil
		}
		return second, nil
	}

	require.NoError(t, s.Start(context.Background()))
	first.Close() // 模拟连接断开

	select {
	case event := <-s.Events():
		assert.Equal(t, "BTCUSDT", event.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("no fill event after reconnect")
	}

	assert.Equal(t, StateConnected, s.State())
	// 重连成功后计数归零
	assert.Equal(t, 0, s.ReconnectCount())
	dialMu.Lock()
	require.Len(t, dials, 2)
	assert.Equal(t, "wss://example/ws/key-1", dials[0])
	assert.Equal(t, "wss://example/ws/key-2", dials[1])
	dialMu.Unlock()

	s.Stop()
	waitDone(t, s)
}

func TestSessionStopsAfterReconnectAttemptsExhausted(t *testing.T) {
	conn := newFakeConn()
	keys := &fakeKeys{}

	var dialCount int
	s := NewSession(testSessionConfig(), keys, DecodeSpotEvent, zap.NewNop())
	s.dial = func(url string) (Conn, error) {
		dialCount++
		if dialCount == 1 {
			return conn, nil
		}
		return nil, errors.New("connection refused")
	}

	require.NoError(t, s.Start(context.Background()))
	conn.Close()

	waitDone(t, s)
	assert.Equal(t, StateStopped, s.State())
	// 初始连接 + 两次重连尝试
	assert.Equal(t, 3, dialCount)

	// 通道关闭，消费方的 range 循环会退出
	_, open := <-s.Events()
	assert.False(t, open)
}

func TestSessionReconnectDisabled(t *testing.T) {
	conn := newFakeConn()
	cfg := testSessionConfig()
	cfg.ReconnectEnabled = false

	s := NewSession(cfg, &fakeKeys{}, DecodeSpotEvent, zap.NewNop())
	s.dial = func(url string) (Conn, error) { return conn, nil }

	require.NoError(t, s.Start(context.Background()))
	conn.Close()

	waitDone(t, s)
	assert.Equal(t, StateStopped, s.State())
}

func TestSessionStartFailsWhenListenKeyUnavailable(t *testing.T) {
	keys := &fakeKeys{createErr: errors.New("service unavailable")}
	s := NewSession(testSessionConfig(), keys, DecodeSpotEvent, zap.NewNop())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionKeepaliveFailureIsNotFatal(t *testing.T) {
	conn := newFakeConn()
	keys := &fakeKeys{keepaliveErr: errors.New("rate limited")}
	cfg := testSessionConfig()
	cfg.KeepaliveInterval = 5 * time.Millisecond

	s := NewSession(cfg, keys, DecodeSpotEvent, zap.NewNop())
	s.dial = func(url string) (Conn, error) { return conn, nil }

	require.NoError(t, s.Start(context.Background()))

	// 等几个保活周期，会话必须还活着
	require.Eventually(t, func() bool {
		_, keep, _ := keys.counts()
		return keep >= 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateConnected, s.State())

	s.Stop()
	waitDone(t, s)
}

func TestStreamURLSelection(t *testing.T) {
	assert.Equal(t, "wss://testnet.binance.vision/ws/", SpotStreamURL("https://testnet.binance.vision"))
	assert.Equal(t, "wss://stream.binance.com:9443/ws/", SpotStreamURL("https://api.binance.com"))
	assert.Equal(t, "wss://stream.binancefuture.com/ws/", FuturesStreamURL("https://testnet.binancefuture.com"))
	assert.Equal(t, "wss://fstream.binance.com/ws/", FuturesStreamURL("https://fapi.binance.com"))
}
