// internal/engine/account_sync.go
package engine

import (
	"context"

	"go.uber.org/zap"

	"binance-copy-trader/internal/binance"
)

// AccountSettingsClient 账户侧的合约设置操作
type AccountSettingsClient interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType binance.MarginType) error
	SetPositionMode(ctx context.Context, dualSide bool) error
}

type followerSettings struct {
	Name   string
	Client AccountSettingsClient
}

// AccountSynchronizer 把持仓模式、杠杆和保证金模式同步到主账户和全部跟单账户
// 设置失败只告警不中断：引擎仍可跑，下错方向的单由交易所拒绝
type AccountSynchronizer struct {
	master    AccountSettingsClient
	followers []followerSettings
	logger    *zap.Logger
}

func NewAccountSynchronizer(master AccountSettingsClient, followers []followerSettings, logger *zap.Logger) *AccountSynchronizer {
	return &AccountSynchronizer{master: master, followers: followers, logger: logger}
}

// Initialize 启动时统一持仓模式：dualSide 为真即对冲模式
func (s *AccountSynchronizer) Initialize(ctx context.Context, dualSide bool) {
	mode := "one-way"
	if dualSide {
		mode = "hedge"
	}
	s.logger.Info("Synchronizing position mode", zap.String("Mode", mode))

	if err := s.master.SetPositionMode(ctx, dualSide); err != nil {
		s.logger.Warn("Failed to set position mode on master", zap.Error(err))
	}
	for _, f := range s.followers {
		if err := f.Client.SetPositionMode(ctx, dualSide); err != nil {
			s.logger.Warn("Failed to set position mode",
				zap.String("Follower", f.Name), zap.Error(err))
		}
	}
}

// SetSymbolLeverage 对主账户和全部跟单账户设置某交易对的杠杆
func (s *AccountSynchronizer) SetSymbolLeverage(ctx context.Context, symbol string, leverage int) {
	if err := s.master.SetLeverage(ctx, symbol, leverage); err != nil {
		s.logger.Warn("Failed to set leverage on master",
			zap.String("Symbol", symbol), zap.Error(err))
	}
	for _, f := range s.followers {
		if err := f.Client.SetLeverage(ctx, symbol, leverage); err != nil {
			s.logger.Warn("Failed to set leverage",
				zap.String("Follower", f.Name), zap.String("Symbol", symbol), zap.Error(err))
		} else {
			s.logger.Info("Leverage set",
				zap.String("Follower", f.Name), zap.String("Symbol", symbol), zap.Int("Leverage", leverage))
		}
	}
}

// SetSymbolMarginType 对主账户和全部跟单账户设置某交易对的保证金模式
func (s *AccountSynchronizer) SetSymbolMarginType(ctx context.Context, symbol string, marginType binance.MarginType) {
	if err := s.master.SetMarginType(ctx, symbol, marginType); err != nil {
		s.logger.Warn("Failed to set margin type on master",
			zap.String("Symbol", symbol), zap.Error(err))
	}
	for _, f := range s.followers {
		if err := f.Client.SetMarginType(ctx, symbol, marginType); err != nil {
			s.logger.Warn("Failed to set margin type",
				zap.String("Follower", f.Name), zap.String("Symbol", symbol), zap.Error(err))
		}
	}
}

// ApplyLeverageOverrides 启动时按配置逐个交易对下发杠杆覆盖值
// 只在启动执行一次，成交处理路径不会重复设置
func (s *AccountSynchronizer) ApplyLeverageOverrides(ctx context.Context, overrides map[string]int) {
	if len(overrides) == 0 {
		return
	}
	s.logger.Info("Applying symbol leverage overrides", zap.Int("Symbols", len(overrides)))
	for symbol, leverage := range overrides {
		s.SetSymbolLeverage(ctx, symbol, leverage)
	}
}
