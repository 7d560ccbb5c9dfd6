// internal/engine/futures_engine.go
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"binance-copy-trader/internal/binance"
	"binance-copy-trader/internal/service"
	"binance-copy-trader/internal/stream"
)

// 手续费与滑点的固定缓冲：所需保证金上浮 5%
var marginBuffer = decimal.RequireFromString("1.05")

// marginAsset 保证金资产
const marginAsset = "USDT"

// FuturesOrderClient 合约扇出依赖的客户端接口
type FuturesOrderClient interface {
	PlaceOrder(ctx context.Context, order binance.OrderRequest) (*binance.OrderResponse, error)
	AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	CheckMinNotional(ctx context.Context, symbol string, quantity, price float64) error
}

// FuturesFollower 一个合约跟单账户
type FuturesFollower struct {
	Name   string
	Scale  float64
	Client FuturesOrderClient
}

// FuturesEngine 合约跟单引擎
// 在现货管线之上增加持仓方向映射、下单前余额/名义价值检查和账户设置同步
type FuturesEngine struct {
	trading   service.TradingConfig
	master    *binance.FuturesClient
	followers []FuturesFollower
	sync      *AccountSynchronizer
	session   *stream.Session
	window    *DedupWindow
	stats     *Stats
	symbols   *SymbolFilter
	orderType binance.OrderType
	hedgeMode bool
	logger    *zap.Logger
}

// NewFuturesEngine 组装合约引擎
// 任何账户的启动对时失败都会让构造失败：时钟漂移未知时不能安全签名
func NewFuturesEngine(ctx context.Context, cfg *service.Config, logger *zap.Logger) (*FuturesEngine, error) {
	master, err := binance.NewFuturesClient(ctx, cfg.Master.APIKey, cfg.Master.APISecret, cfg.BaseURL,
		logger.With(zap.String("Account", "master")))
	if err != nil {
		return nil, fmt.Errorf("master client: %w", err)
	}

	var followers []FuturesFollower
	var settingsClients []followerSettings
	for _, f := range cfg.EnabledFollowers() {
		client, err := binance.NewFuturesClient(ctx, f.APIKey, f.APISecret, cfg.BaseURL,
			logger.With(zap.String("Account", f.Name)))
		if err != nil {
			return nil, fmt.Errorf("follower %q client: %w", f.Name, err)
		}
		followers = append(followers, FuturesFollower{Name: f.Name, Scale: f.Scale, Client: client})
		settingsClients = append(settingsClients, followerSettings{Name: f.Name, Client: client})
	}

	session := stream.NewSession(
		streamConfig(stream.FuturesStreamURL(cfg.BaseURL), cfg.WebSocket),
		master, stream.DecodeFuturesEvent, logger.With(zap.String("Component", "stream")))

	e := &FuturesEngine{
		trading:   cfg.Trading,
		master:    master,
		followers: followers,
		sync:      NewAccountSynchronizer(master, settingsClients, logger),
		session:   session,
		window:    NewDedupWindow(DefaultDedupCapacity),
		stats:     NewStats(),
		symbols:   NewSymbolFilter(cfg.Trading.AllowedSymbols, cfg.Trading.ExcludedSymbols),
		orderType: binance.OrderType(strings.ToUpper(cfg.Trading.FollowerOrderType)),
		hedgeMode: cfg.Trading.PositionMode == "hedge",
		logger:    logger,
	}

	logger.Info("Futures copy trade engine initialized", zap.Int("Followers", len(followers)))
	return e, nil
}

// Start 同步账户设置、建立事件流并启动消费协程
func (e *FuturesEngine) Start(ctx context.Context) error {
	e.logger.Info("Starting futures copy trade engine...")

	e.sync.Initialize(ctx, e.hedgeMode)
	if e.trading.AutoSetLeverage {
		e.sync.ApplyLeverageOverrides(ctx, e.trading.SymbolLeverage)
	}

	if err := e.session.Start(ctx); err != nil {
		return fmt.Errorf("start stream session: %w", err)
	}
	go e.consume(ctx)
	return nil
}

// Done 引擎自行终止时关闭
func (e *FuturesEngine) Done() <-chan struct{} { return e.session.Done() }

// Stats 暴露统计器
func (e *FuturesEngine) Stats() *Stats { return e.stats }

// AccountSync 暴露账户设置同步器，供运维侧按需调整杠杆/保证金模式
func (e *FuturesEngine) AccountSync() *AccountSynchronizer { return e.sync }

// Stop 有序停止
func (e *FuturesEngine) Stop() {
	e.logger.Info("Stopping futures copy trade engine...")
	e.session.Stop()
	e.stats.LogSummary(e.logger)
	e.logger.Info("Futures copy trade engine stopped")
}

func (e *FuturesEngine) consume(ctx context.Context) {
	for event := range e.session.Events() {
		e.handleFill(ctx, event)
	}
}

// handleFill 过滤 → 去重 → 扇出，与现货管线同构
func (e *FuturesEngine) handleFill(ctx context.Context, event stream.FillEvent) {
	if !e.symbols.Allowed(event.Symbol) {
		e.logger.Debug("Symbol filtered out", zap.String("Symbol", event.Symbol))
		return
	}

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
		zap.String("PositionSide", string(event.PositionSide)),
		zap.String("FillStatus", fillStatus(event)))

	for i := range e.followers {
		outcome := e.replicate(ctx, &e.followers[i], event)
		recordOutcome(e.stats, outcome.Kind)
	}
}

// leverageFor 返回交易对的杠杆：按交易对覆盖值优先，否则用全局配置
func (e *FuturesEngine) leverageFor(symbol string) int {
	if lev, ok := e.trading.SymbolLeverage[symbol]; ok {
		return lev
	}
	return e.trading.Leverage
}

// resolvePositionSide 单向模式恒为 BOTH；对冲模式沿用主账户的持仓方向
func (e *FuturesEngine) resolvePositionSide(event stream.FillEvent) binance.PositionSide {
	if e.hedgeMode {
		return event.PositionSide
	}
	return binance.PositionBoth
}

// checkBalance 下单前的余额检查
// 所需保证金 = 数量×价格÷杠杆，再上浮 5% 缓冲；余额查询失败按不足处理
func (e *FuturesEngine) checkBalance(ctx context.Context, f *FuturesFollower, event stream.FillEvent, qty float64, logger *zap.Logger) bool {
	available, err := f.Client.AvailableBalance(ctx, marginAsset)
	if err != nil {
		logger.Error("Failed to check balance", zap.Error(err))
		return false
	}

	required := decimal.NewFromFloat(qty).
		Mul(decimal.NewFromFloat(event.ExecPrice)).
		Div(decimal.NewFromInt(int64(e.leverageFor(event.Symbol)))).
		Mul(marginBuffer)

	if available.LessThan(required) {
		logger.Warn("Insufficient balance",
			zap.String("Available", available.String()),
			zap.String("Required", required.String()))
		return false
	}
	return true
}

// replicate 为单个合约跟单账户复制一笔成交，失败隔离在本账户内
func (e *FuturesEngine) replicate(ctx context.Context, f *FuturesFollower, event stream.FillEvent) (outcome Outcome) {
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

	// 余额不足时不触碰交易所
	if !e.checkBalance(ctx, f, event, qty, logger) {
		outcome.Kind = OutcomeInsufficientBalance
		return outcome
	}

	if e.orderType == binance.OrderTypeLimit {
		if err := f.Client.CheckMinNotional(ctx, event.Symbol, qty, event.ExecPrice); err != nil {
			logger.Error("Order value too small",
				zap.String("Symbol", event.Symbol), zap.Error(err))
			outcome.Kind = classifyError(err)
			outcome.Err = err
			return outcome
		}
	}

	order := binance.OrderRequest{
		Symbol:       event.Symbol,
		Side:         event.Side,
		Type:         e.orderType,
		Quantity:     qty,
		PositionSide: e.resolvePositionSide(event),
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
		zap.String("PositionSide", string(order.PositionSide)),
		zap.Int64("OrderID", resp.OrderID),
		zap.String("Status", resp.Status))
	return outcome
}
