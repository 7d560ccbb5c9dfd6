// internal/binance/sign.go
package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// params 保持插入顺序的请求参数集
// 签名对 key=value&... 的字面串做 HMAC，顺序必须可确定
type params struct {
	keys   []string
	values []string
}

func newParams() *params {
	return &params{}
}

func (p *params) Add(key, value string) *params {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return p
}

func (p *params) AddInt(key string, value int64) *params {
	return p.Add(key, strconv.FormatInt(value, 10))
}

func (p *params) Has(key string) bool {
	for _, k := range p.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (p *params) Get(key string) string {
	for i, k := range p.keys {
		if k == key {
			return p.values[i]
		}
	}
	return ""
}

// Encode 生成 key=value&key=value 字面串，不做 URL 转义
// Binance 的签名基于字面拼接，参数值均为受控的安全字符集
func (p *params) Encode() string {
	var sb strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(p.values[i])
	}
	return sb.String()
}

// sign 计算 HMAC-SHA256 签名并以 signature 参数追加
func (p *params) sign(secret []byte) {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(p.Encode()))
	p.Add("signature", hex.EncodeToString(mac.Sum(nil)))
}
