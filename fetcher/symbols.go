package fetcher

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultSymbolMap 映射文件加载失败时的兜底映射
var DefaultSymbolMap = map[string]string{
	"SPXx":  "^GSPC",
	"DJIx":  "^DJI",
	"IXICx": "^IXIC",
	"NDXx":  "^NDX",
	"RUTx":  "^RUT",
	"VIXx":  "^VIX",
	"TNXx":  "^TNX",
}

// Normalize 统一代码格式：去空白并转大写
func Normalize(symbol string) string {
	// Caser 有状态，不能跨 goroutine 共享
	return cases.Upper(language.Und).String(strings.TrimSpace(symbol))
}

// SymbolMapper 内部代码(x 后缀)到上游代码的映射，构造后只读
type SymbolMapper struct {
	forward map[string]string
	reverse map[string]string
}

// NewSymbolMapper 创建映射器，键按大写归一
func NewSymbolMapper(m map[string]string) *SymbolMapper {
	sm := &SymbolMapper{
		forward: make(map[string]string, len(m)),
		reverse: make(map[string]string, len(m)),
	}
	for k, v := range m {
		nk, v := Normalize(k), strings.TrimSpace(v)
		if nk == "" || v == "" {
			continue
		}
		sm.forward[nk] = v
		sm.reverse[Normalize(v)] = strings.TrimSpace(k)
	}
	return sm
}

// ParseSymbolMap 解析 JSON 映射文件内容
func ParseSymbolMap(data []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse symbol map: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("parse symbol map: empty")
	}
	return m, nil
}

// LoadSymbolMapper 启动时加载一次映射：path 非空读文件，否则用内置数据；失败回退到默认映射
func LoadSymbolMapper(path string, embedded []byte) *SymbolMapper {
	data := embedded
	src := "embedded"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("[fetch] 读取代码映射文件失败，使用默认映射")
			return NewSymbolMapper(DefaultSymbolMap)
		}
		data, src = b, path
	}

	m, err := ParseSymbolMap(data)
	if err != nil {
		log.Warn().Err(err).Str("source", src).Msg("[fetch] 代码映射无效，使用默认映射")
		return NewSymbolMapper(DefaultSymbolMap)
	}
	log.Info().Int("count", len(m)).Str("source", src).Msg("[fetch] 代码映射已加载")
	return NewSymbolMapper(m)
}

// ToProvider 内部代码转上游代码，未映射时返回归一后的原代码
func (m *SymbolMapper) ToProvider(symbol string) string {
	s := Normalize(symbol)
	if m == nil {
		return s
	}
	if v, ok := m.forward[s]; ok {
		return v
	}
	return s
}

// FromProvider 上游代码转回内部代码
func (m *SymbolMapper) FromProvider(symbol string) string {
	s := Normalize(symbol)
	if m == nil {
		return s
	}
	if v, ok := m.reverse[s]; ok {
		return v
	}
	return s
}

// Len 映射条目数
func (m *SymbolMapper) Len() int {
	if m == nil {
		return 0
	}
	return len(m.forward)
}
