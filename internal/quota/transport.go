package quota

import (
	"fmt"
	"net/http"
)

// Transport wraps base so that every outgoing HTTP request first takes a
// slot from g. A nil base means http.DefaultTransport.
func Transport(base http.RoundTripper, g *Governor) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &governedTransport{base: base, gov: g}
}

// governedTransport 按 HTTP 请求计数，一个操作发几次请求就占几次配额
type governedTransport struct {
	base http.RoundTripper
	gov  *Governor
}

func (t *governedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.gov.Acquire(req.Context()); err != nil {
		return nil, fmt.Errorf("等待表格调用配额失败: %w", err)
	}
	return t.base.RoundTrip(req)
}
