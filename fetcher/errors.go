package fetcher

import "errors"

var (
	// ErrNoData 上游返回空结果
	ErrNoData = errors.New("no data")

	// ErrUpstream 上游调用失败(超时/状态码/解析错误/熔断)
	ErrUpstream = errors.New("upstream error")
)
