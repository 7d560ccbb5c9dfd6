// internal/binance/client.go
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"binance-copy-trader/pkg/precision"
)

const (
	recvWindowMs       = 5000
	minRequestInterval = 50 * time.Millisecond // 同一账户的最小请求间隔
	requestTimeout     = 10 * time.Second
	maxRetries         = 3
	baseRetryDelay     = time.Second
)

// rest 是签名请求网关的公共内核：签名、限速、重试、时钟漂移自愈
// 每个账户持有独立实例，互不共享限速与缓存状态
type rest struct {
	apiKey     string
	apiSecret  []byte
	baseURL    string
	httpClient *http.Client
	clock      *ServerClock
	logger     *zap.Logger

	sleep func(time.Duration) // 测试注入

	rateMu      sync.Mutex
	lastRequest time.Time

	filtersMu sync.RWMutex
	filters   map[string]*SymbolFilters
}

func newRest(apiKey, apiSecret, baseURL, timePath string, logger *zap.Logger) *rest {
	httpClient := &http.Client{Timeout: requestTimeout}
	return &rest{
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		baseURL:    baseURL,
		httpClient: httpClient,
		clock:      NewServerClock(httpClient, baseURL+timePath, logger),
		logger:     logger,
		sleep:      time.Sleep,
		filters:    make(map[string]*SymbolFilters),
	}
}

// throttle 保证同一账户实例两次请求之间至少间隔 minRequestInterval
func (r *rest) throttle() {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()
	if elapsed := time.Since(r.lastRequest); elapsed < minRequestInterval {
		r.sleep(minRequestInterval - elapsed)
	}
	r.lastRequest = time.Now()
}

// request 发起一次请求，signed 为真时注入 timestamp/recvWindow 并签名
// 传输层失败按指数退避重试；-1021 被拒时重新对时后立即重试一次
func (r *rest) request(ctx context.Context, method, path string, p *params, signed bool, out any) error {
	if p == nil {
		p = newParams()
	}

	r.throttle()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		query := p
		if signed {
			// 每次尝试都重新注入时间戳并签名，重新对时后签名才有效
			query = &params{
				keys:   append([]string(nil), p.keys...),
				values: append([]string(nil), p.values...),
			}
			if !query.Has("timestamp") {
				query.AddInt("timestamp", r.clock.Now())
			}
			if !query.Has("recvWindow") {
				query.AddInt("recvWindow", recvWindowMs)
			}
			query.sign(r.apiSecret)
		}

		url := r.baseURL + path
		if encoded := query.Encode(); encoded != "" {
			url += "?" + encoded
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-MBX-APIKEY", r.apiKey)

		resp, err := r.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries-1 {
				delay := baseRetryDelay << attempt
				r.logger.Warn("Request failed, retrying...",
					zap.String("Path", path),
					zap.Int("Attempt", attempt+1),
					zap.Int("MaxRetries", maxRetries),
					zap.Duration("Backoff", delay),
					zap.Error(err))
				r.sleep(delay)
				continue
			}
			return &TransportError{Attempts: maxRetries, Err: lastErr}
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < maxRetries-1 {
				r.sleep(baseRetryDelay << attempt)
				continue
			}
			return &TransportError{Attempts: maxRetries, Err: lastErr}
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{Status: resp.StatusCode, Message: string(body)}
			var payload struct {
				Code int    `json:"code"`
				Msg  string `json:"msg"`
			}
			if json.Unmarshal(body, &payload) == nil && payload.Code != 0 {
				apiErr.Code = payload.Code
				apiErr.Message = payload.Msg
			}

			// 时间戳漂移：重新对时后在预算内立即重试，不加额外延迟
			if apiErr.Code == codeTimestampOutOfRange && attempt < maxRetries-1 {
				r.logger.Warn("Timestamp out of sync, re-syncing...")
				if syncErr := r.clock.Sync(ctx); syncErr != nil {
					r.logger.Warn("Time re-sync failed", zap.Error(syncErr))
				}
				lastErr = apiErr
				continue
			}

			r.logger.Error("Binance API error",
				zap.String("Path", path),
				zap.Int("Code", apiErr.Code),
				zap.String("Msg", apiErr.Message))
			return apiErr
		}

		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response from %s: %w", path, err)
			}
		}
		return nil
	}
	return &TransportError{Attempts: maxRetries, Err: lastErr}
}

// Clock 暴露对时器供测试与启动流程使用
func (r *rest) Clock() *ServerClock { return r.clock }

// exchangeInfoResponse 交易规则接口的响应片段
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MaxQty      string `json:"maxQty"`
			TickSize    string `json:"tickSize"`
			MinPrice    string `json:"minPrice"`
			MaxPrice    string `json:"maxPrice"`
			MinNotional string `json:"minNotional"`
			Notional    string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// symbolFilters 查询并缓存交易对的过滤器；缓存后视为进程生命周期内静态
func (r *rest) symbolFilters(ctx context.Context, exchangeInfoPath, symbol string) (*SymbolFilters, error) {
	r.filtersMu.RLock()
	cached, ok := r.filters[symbol]
	r.filtersMu.RUnlock()
	if ok {
		return cached, nil
	}

	p := newParams().Add("symbol", symbol)
	var info exchangeInfoResponse
	if err := r.request(ctx, http.MethodGet, exchangeInfoPath, p, false, &info); err != nil {
		return nil, err
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := &SymbolFilters{Symbol: symbol}
		// 缺省值与参考实现一致
		filters.LotSize, _ = precision.ParseBounds("0.00000001", "0", "9000000")
		filters.PriceFilter, _ = precision.ParseBounds("0.01", "0", "1000000")

		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				b, err := precision.ParseBounds(f.StepSize, f.MinQty, f.MaxQty)
				if err != nil {
					return nil, fmt.Errorf("parse LOT_SIZE for %s: %w", symbol, err)
				}
				filters.LotSize = b
			case "PRICE_FILTER":
				b, err := precision.ParseBounds(f.TickSize, f.MinPrice, f.MaxPrice)
				if err != nil {
					return nil, fmt.Errorf("parse PRICE_FILTER for %s: %w", symbol, err)
				}
				filters.PriceFilter = b
			case "MIN_NOTIONAL", "NOTIONAL":
				raw := f.Notional
				if raw == "" {
					raw = f.MinNotional
				}
				if raw != "" {
					n, err := decimal.NewFromString(raw)
					if err != nil {
						return nil, fmt.Errorf("parse MIN_NOTIONAL for %s: %w", symbol, err)
					}
					filters.MinNotional = n
				}
			}
		}

		// 并发取同一个交易对时后写覆盖先写，过滤器不可变所以无冲突
		r.filtersMu.Lock()
		r.filters[symbol] = filters
		r.filtersMu.Unlock()
		return filters, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

// checkMinNotional 校验 数量×价格 是否达到最小名义价值
func checkMinNotional(filters *SymbolFilters, quantity, price float64) error {
	if filters.MinNotional.IsZero() {
		return nil
	}
	notional := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price))
	if notional.LessThan(filters.MinNotional) {
		return fmt.Errorf("%w: %s < %s", ErrNotionalTooSmall, notional, filters.MinNotional)
	}
	return nil
}

// Client 现货账户的签名请求网关
type Client struct {
	*rest
}

// NewClient 构造现货客户端并做首次对时
// 现货变体对时失败只告警并沿用旧偏移，不阻塞启动
func NewClient(apiKey, apiSecret, baseURL string, logger *zap.Logger) *Client {
	c := &Client{rest: newRest(apiKey, apiSecret, baseURL, "/api/v3/time", logger)}
	if err := c.clock.Sync(context.Background()); err != nil {
		logger.Warn("Failed to sync time, using local time", zap.Error(err))
	}
	return c
}

// CreateListenKey 创建现货用户数据流的 listenKey
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	c.logger.Info("Creating new listen key")
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/v3/userDataStream", nil, false, &out); err != nil {
		return "", err
	}
	c.logger.Info("Listen key created", zap.String("Prefix", keyPrefix(out.ListenKey)))
	return out.ListenKey, nil
}

// KeepaliveListenKey 延长 listenKey 的有效期
func (c *Client) KeepaliveListenKey(ctx context.Context, listenKey string) error {
	p := newParams().Add("listenKey", listenKey)
	return c.request(ctx, http.MethodPut, "/api/v3/userDataStream", p, false, nil)
}

// CloseListenKey 关闭用户数据流
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	c.logger.Info("Closing listen key", zap.String("Prefix", keyPrefix(listenKey)))
	p := newParams().Add("listenKey", listenKey)
	return c.request(ctx, http.MethodDelete, "/api/v3/userDataStream", p, false, nil)
}

// SymbolFilters 返回交易对的下单约束（带缓存）
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	return c.symbolFilters(ctx, "/api/v3/exchangeInfo", symbol)
}

// PlaceOrder 量化数量/价格后提交签名下单请求
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	filters, err := c.SymbolFilters(ctx, order.Symbol)
	if err != nil {
		return nil, err
	}

	qty, err := precision.QuantizeFloat(order.Quantity, filters.LotSize)
	if err != nil {
		return nil, err
	}

	p := newParams().
		Add("symbol", order.Symbol).
		Add("side", string(order.Side)).
		Add("type", string(order.Type)).
		Add("quantity", qty)

	if order.Type == OrderTypeLimit {
		if order.Price <= 0 {
			return nil, ErrMissingPrice
		}
		price, err := precision.QuantizeFloat(order.Price, filters.PriceFilter)
		if err != nil {
			return nil, err
		}
		p.Add("price", price)
		tif := order.TimeInForce
		if tif == "" {
			tif = TimeInForceGTC
		}
		p.Add("timeInForce", string(tif))
	}

	c.logger.Info("Placing order",
		zap.String("Symbol", order.Symbol),
		zap.String("Side", string(order.Side)),
		zap.String("Type", string(order.Type)),
		zap.String("Quantity", qty))

	var out OrderResponse
	if err := c.request(ctx, http.MethodPost, "/api/v3/order", p, true, &out); err != nil {
		return nil, err
	}

	c.logger.Info("Order placed",
		zap.Int64("OrderID", out.OrderID),
		zap.String("Status", out.Status))
	return &out, nil
}

// AccountInfo 查询现货账户信息
func (c *Client) AccountInfo(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.request(ctx, http.MethodGet, "/api/v3/account", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// keyPrefix 日志里只展示 listenKey 前缀
func keyPrefix(key string) string {
	if len(key) > 8 {
		return key[:8] + "..."
	}
	return key
}
