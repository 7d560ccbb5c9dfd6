// internal/engine/symbols.go
package engine

// SymbolFilter 交易对的允许/排除规则
// 排除名单永远优先；允许名单非空时为白名单；都为空时全部放行
type SymbolFilter struct {
	allowed  map[string]struct{}
	excluded map[string]struct{}
}

// NewSymbolFilter 由配置构造过滤器
func NewSymbolFilter(allowed, excluded []string) *SymbolFilter {
	f := &SymbolFilter{
		allowed:  make(map[string]struct{}, len(allowed)),
		excluded: make(map[string]struct{}, len(excluded)),
	}
	for _, s := range allowed {
		f.allowed[s] = struct{}{}
	}
	for _, s := range excluded {
		f.excluded[s] = struct{}{}
	}
	return f
}

// Allowed 判断交易对是否允许跟单
func (f *SymbolFilter) Allowed(symbol string) bool {
	if _, ok := f.excluded[symbol]; ok {
		return false
	}
	if len(f.allowed) > 0 {
		_, ok := f.allowed[symbol]
		return ok
	}
	return true
}
