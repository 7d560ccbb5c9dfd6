// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"binance-copy-trader/internal/binance"
	"binance-copy-trader/internal/service"
	"binance-copy-trader/internal/stream"
)

// SpotOrderClient 扇出依赖的现货下单接口
type SpotOrderClient interface {
	PlaceOrder(ctx context.Context, order binance.OrderRequest) (*binance.OrderResponse, error)
}

// SpotFollower 一个跟单账户：名称、缩放因子和独占的签名请求网关
type SpotFollower struct {
	Name   string
	Scale  float64
	Client SpotOrderClient
}

// Engine 现货跟单引擎
// 流会话产出成交事件，引擎串行地做符号过滤、去重和逐个跟单账户的复制
type Engine struct {
	trading   service.TradingConfig
	master    *binance.Client
	followers []SpotFollower
	session   *stream.Session
	window    *DedupWindow
	stats     *Stats
	symbols   *SymbolFilter
	orderType binance.OrderType
	logger    *zap.Logger
}

// NewEngine 按配置组装现货引擎：主账户客户端、每个启用跟单账户的独立客户端、流会话
func NewEngine(cfg *service.Config, logger *zap.Logger) *Engine {
	master := binance.NewClient(cfg.Master.APIKey, cfg.Master.APISecret, cfg.BaseURL,
		logger.With(zap.String("Account", "master")))

	var followers []SpotFollower
	for _, f := range cfg.EnabledFollowers() {
		followers = append(followers, SpotFollower{
			Name:  f.Name,
			Scale: f.Scale,
			Client: binance.NewClient(f.APIKey, f.APISecret, cfg.BaseURL,
				logger.With(zap.String("Account", f.Name))),
		})
	}

	session := stream.NewSession(
		streamConfig(stream.SpotStreamURL(cfg.BaseURL), cfg.WebSocket),
		master, stream.DecodeSpotEvent, logger.With(zap.String("Component", "stream")))

	e := &Engine{
		trading:   cfg.Trading,
		master:    master,
		followers: followers,
		session:   session,
		window:    NewDedupWindow(DefaultDedupCapacity),
		stats:     NewStats(),
		symbols:   NewSymbolFilter(cfg.Trading.AllowedSymbols, cfg.Trading.ExcludedSymbols),
		orderType: binance.OrderType(strings.ToUpper(cfg.Trading.FollowerOrderType)),
		logger:    logger,
	}

	logger.Info("Copy trade engine initialized", zap.Int("Followers", len(followers)))
	return e
}

// Start 建立事件流并启动消费协程
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting copy trade engine...")
	if err := e.session.Start(ctx); err != nil {
		return fmt.Errorf("start stream session: %w", err)
	}
	go e.consume(ctx)
	return nil
}

// Done 引擎自行终止时关闭（重连次数耗尽）
func (e *Engine) Done() <-chan struct{} { return e.session.Done() }

// Stats 暴露统计器，可随时取快照
func (e *Engine) Stats() *Stats { return e.stats }

// Stop 有序停止：关闭流会话并输出统计摘要
func (e *Engine) Stop() {
	e.logger.Info("Stopping copy trade engine...")
	e.session.Stop()
	e.stats.LogSummary(e.logger)
	e.logger.Info("Copy trade engine stopped")
}

// consume 在接收协程上串行处理成交事件
func (e *Engine) consume(ctx context.Context) {
	for event := range e.session.Events() {
		e.handleFill(ctx, event)
	}
}

// handleFill 单个成交事件的处理管线：过滤 → 去重 → 扇出
func (e *Engine) handleFill(ctx context.Context, event stream.FillEvent) {
	if !e.symbols.Allowed(event.Symbol) {
		e.logger.Debug("Symbol filtered out", zap.String("Symbol", event.Symbol))
		return
	}

	// 去重键的记录必须先于任何下单动作，保证至多一次复制
	if e.window.SeenOrRemember(event.Key()) {
		e.logger.Debug("Duplicate fill detected", zap.String("Key", event.Key().String()))
		e.stats.RecordDuplicate()
		return
	}

	e.stats.RecordFill()
	e.logger.Info("Master fill received",
		zap.String("Symbol", event.Symbol),
		zap.String("Side", string(event.Side)),
		zap.Float64("Quantity", event.ExecQty),
		zap.Float64("Price", event.ExecPrice),
		zap.String("FillStatus", fillStatus(event)))

	for i := range e.followers {
		outcome := e.replicate(ctx, &e.followers[i], event)
		recordOutcome(e.stats, outcome.Kind)
	}
}

// replicate 为单个跟单账户复制一笔成交
// 任何失败都被限制在本账户内，不影响其他账户和接收协程
func (e *Engine) replicate(ctx context.Context, f *SpotFollower, event stream.FillEvent) (outcome Outcome) {
	outcome = Outcome{Follower: f.Name}
	logger := e.logger.With(zap.String("Follower", f.Name))

	defer func() {
		if r := recover(); r != nil {
			outcome.Kind = OutcomeUnexpected
			outcome.Err = fmt.Errorf("panic during replication: %v", r)
			logger.Error("Unexpected error during replication", zap.Any("Panic", r))
		}
	}()

	qty, skip, clamped := scaleQuantity(event.ExecQty, f.Scale,
		e.trading.MinOrderQuantity, e.trading.MaxOrderQuantity)
	if skip {
		logger.Warn("Quantity below minimum, skipping",
			zap.Float64("Quantity", qty), zap.Float64("Minimum", e.trading.MinOrderQuantity))
		outcome.Kind = OutcomeSkippedBelowMin
		return outcome
	}
	if clamped {
		logger.Warn("Quantity above maximum, capping",
			zap.Float64("Capped", qty), zap.Float64("Maximum", e.trading.MaxOrderQuantity))
	}

	order := binance.OrderRequest{
		Symbol:   event.Symbol,
		Side:     event.Side,
		Type:     e.orderType,
		Quantity: qty,
	}
	if e.orderType == binance.OrderTypeLimit {
		order.Price = event.ExecPrice
	}

	resp, err := f.Client.PlaceOrder(ctx, order)
	outcome.Kind = classifyError(err)
	outcome.Err = err
	if err != nil {
		logger.Error("Failed to copy trade",
			zap.String("Symbol", event.Symbol),
			zap.String("Outcome", string(outcome.Kind)),
			zap.Error(err))
		return outcome
	}

	outcome.OrderID = resp.OrderID
	outcome.ExecutedQty = resp.ExecutedQty
	outcome.Status = resp.Status
	logger.Info("Trade copied",
		zap.String("Symbol", event.Symbol),
		zap.String("Side", string(event.Side)),
		zap.Float64("Quantity", qty),
		zap.Int64("OrderID", resp.OrderID),
		zap.String("Status", resp.Status))
	return outcome
}

// fillStatus 日志用的成交状态描述
func fillStatus(event stream.FillEvent) string {
	if event.Filled() {
		return "FILLED"
	}
	return fmt.Sprintf("PARTIAL (%v/%v)", event.CumulativeQty, event.TotalQty)
}

// streamConfig 把配置的秒数换算成会话参数
func streamConfig(url string, ws service.WebSocketConfig) stream.Config {
	return stream.Config{
		StreamURL:            url,
		ReconnectEnabled:     ws.ReconnectEnabled,
		ReconnectDelay:       secondsToDuration(ws.ReconnectDelay),
		MaxReconnectAttempts: ws.MaxReconnectAttempts,
		KeepaliveInterval:    secondsToDuration(ws.KeepaliveInterval),
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
