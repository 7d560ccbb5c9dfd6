// internal/stream/session.go
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State 流会话状态机
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateStopped      State = "STOPPED"
)

// ListenKeyManager 管理用户数据流会话令牌的创建、续期和关闭
type ListenKeyManager interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepaliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// Conn 是会话持有的流连接，方便测试替换
type Conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// Config 会话的连接与重连参数
type Config struct {
	StreamURL            string // listenKey 追加在末尾
	ReconnectEnabled     bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	KeepaliveInterval    time.Duration
}

// Session 持有主账户私有事件流的长连接
// 解码后的成交事件写入 Events 通道，由扇出侧消费
type Session struct {
	cfg    Config
	keys   ListenKeyManager
	decode Decoder
	logger *zap.Logger

	dial func(url string) (Conn, error) // 测试注入

	events   chan FillEvent
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu             sync.Mutex
	state          State
	conn           Conn
	listenKey      string
	reconnectCount int
}

// NewSession 构造流会话，Start 之前不会建立连接
func NewSession(cfg Config, keys ListenKeyManager, decode Decoder, logger *zap.Logger) *Session {
	return &Session{
		cfg:    cfg,
		keys:   keys,
		decode: decode,
		logger: logger,
		dial: func(url string) (Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		events: make(chan FillEvent, 256),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateDisconnected,
	}
}

// Events 解码后的成交事件流
func (s *Session) Events() <-chan FillEvent { return s.events }

// Done 会话终止后关闭（显式停止或重连次数耗尽），用于通知引擎整体退出
func (s *Session) Done() <-chan struct{} { return s.done }

// State 返回当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ReconnectCount 当前重连尝试计数，成功连接后归零
func (s *Session) ReconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectCount
}

// Start 获取会话令牌并建立流连接，成功后启动接收与保活协程
func (s *Session) Start(ctx context.Context) error {
	s.setState(StateConnecting)

	listenKey, err := s.keys.CreateListenKey(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	conn, err := s.dial(s.cfg.StreamURL + listenKey)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.listenKey = listenKey
	s.reconnectCount = 0
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Info("Connected to user data stream")

	go s.keepaliveLoop(ctx)
	go s.run(ctx)
	return nil
}

// run 接收循环：读取原始消息、解码、投递成交事件
// 连接断开时驱动重连状态机；会话终止时负责关闭 events 和 done
func (s *Session) run(ctx context.Context) {
	defer func() {
		s.setState(StateStopped)
		close(s.events)
		close(s.done)
	}()

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.stopping() {
				return
			}
			s.logger.Warn("Stream connection lost", zap.Error(err))
			if !s.cfg.ReconnectEnabled {
				s.logger.Error("Reconnection disabled, stopping stream")
				return
			}
			if !s.reconnect(ctx) {
				return
			}
			continue
		}

		event, eventType, decodeErr := s.decode(raw)
		if decodeErr != nil {
			s.logger.Error("Failed to decode stream message", zap.Error(decodeErr))
			continue
		}
		if event == nil {
			s.logger.Debug("Ignoring non-fill event", zap.String("EventType", eventType))
			continue
		}

		select {
		case s.events <- *event:
		case <-s.stopCh:
			return
		}
	}
}

// reconnect 重连循环：延迟、换新令牌、重新拨号
// 达到最大尝试次数返回 false，由调用方终止会话
func (s *Session) reconnect(ctx context.Context) bool {
	s.setState(StateReconnecting)

	for {
		s.mu.Lock()
		if s.reconnectCount >= s.cfg.MaxReconnectAttempts {
			s.mu.Unlock()
			s.logger.Error("Max reconnection attempts reached, stopping engine",
				zap.Int("MaxAttempts", s.cfg.MaxReconnectAttempts))
			return false
		}
		s.reconnectCount++
		attempt := s.reconnectCount
		s.mu.Unlock()

		s.logger.Info("Attempting to reconnect...",
			zap.Int("Attempt", attempt),
			zap.Int("MaxAttempts", s.cfg.MaxReconnectAttempts),
			zap.Duration("Delay", s.cfg.ReconnectDelay))

		select {
		case <-time.After(s.cfg.ReconnectDelay):
		case <-s.stopCh:
			return false
		}

		// 每次重连都换一个新的会话令牌
		listenKey, err := s.keys.CreateListenKey(ctx)
		if err != nil {
			s.logger.Error("Reconnection failed: listen key", zap.Error(err))
			continue
		}

		conn, err := s.dial(s.cfg.StreamURL + listenKey)
		if err != nil {
			s.logger.Error("Reconnection failed: dial", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.listenKey = listenKey
		s.reconnectCount = 0
		s.state = StateConnected
		s.mu.Unlock()

		s.logger.Info("Reconnected to user data stream")
		return true
	}
}

// keepaliveLoop 按配置间隔续期会话令牌，失败只记录等下个周期
func (s *Session) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			listenKey := s.listenKey
			s.mu.Unlock()
			if listenKey == "" {
				continue
			}
			if err := s.keys.KeepaliveListenKey(ctx, listenKey); err != nil {
				s.logger.Error("Listen key keepalive failed", zap.Error(err))
				continue
			}
			s.logger.Debug("Listen key keepalive successful")
		case <-s.stopCh:
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop 从任意状态显式停止：关闭连接、尽力释放会话令牌
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		conn := s.conn
		listenKey := s.listenKey
		s.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		if listenKey != "" {
			ctx, cancel := context.WithTimeout(context.Background(), requestStopTimeout)
			defer cancel()
			if err := s.keys.CloseListenKey(ctx, listenKey); err != nil {
				s.logger.Error("Failed to close listen key", zap.Error(err))
			}
		}
	})
}

const requestStopTimeout = 5 * time.Second

// SpotStreamURL 现货用户数据流地址，listenKey 由会话追加
func SpotStreamURL(baseURL string) string {
	if strings.Contains(baseURL, "testnet") {
		return "wss://testnet.binance.vision/ws/"
	}
	return "wss://stream.binance.com:9443/ws/"
}

// FuturesStreamURL 合约用户数据流地址
func FuturesStreamURL(baseURL string) string {
	if strings.Contains(baseURL, "testnet") {
		return "wss://stream.binancefuture.com/ws/"
	}
	return "wss://fstream.binance.com/ws/"
}
