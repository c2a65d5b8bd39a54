package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"marketintel/backtest"
	"marketintel/fetcher"
	"marketintel/quant"
)

// Sanitize 把 NaN/Inf 替换为 null，返回可直接编码的值
//
// 能直接编码的值原样返回编码结果；否则遍历重建为 map/slice 树。
func Sanitize(v any) any {
	b, err := json.Marshal(v)
	if err == nil {
		return json.RawMessage(b)
	}
	var uv *json.UnsupportedValueError
	if !errors.As(err, &uv) {
		return v
	}
	return walk(reflect.ValueOf(v))
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func walk(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if v.Type().Implements(marshalerType) && v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface {
		return v.Interface()
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walk(v.Elem())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = walk(v.Index(i))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = walk(iter.Value())
		}
		return out
	case reflect.Struct:
		out := map[string]any{}
		walkStruct(v, out)
		return out
	default:
		return v.Interface()
	}
}

// walkStruct 按 json tag 展开字段，匿名结构体字段提升到外层
func walkStruct(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)
		if f.Anonymous && name == "" {
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct && !fv.Type().Implements(marshalerType) {
				walkStruct(fv, out)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && isEmpty(fv) {
			continue
		}
		out[name] = walk(fv)
	}
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// respond 统一输出 JSON，所有响应都经过 Sanitize
func respond(c *gin.Context, status int, v any) {
	c.JSON(status, Sanitize(v))
}

// statusOf 错误分类：参数问题 400，无数据 404，其余 500
func statusOf(err error) int {
	switch {
	case errors.Is(err, quant.ErrValidation),
		errors.Is(err, backtest.ErrInsufficientData),
		errors.Is(err, backtest.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, fetcher.ErrNoData):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail 写错误响应。500 只返回操作名，细节进日志
func fail(c *gin.Context, op string, err error, symbol string) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Str("symbol", symbol).Str("request_id", c.GetString(requestIDKey)).Msg("[API] 请求失败")
		msg = fmt.Sprintf("%s failed", op)
		if symbol != "" {
			msg = fmt.Sprintf("%s failed for %s", op, symbol)
		}
	}
	body := gin.H{"error": msg}
	if symbol != "" {
		body["symbol"] = symbol
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
