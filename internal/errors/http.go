package errors

import (
	"context"
	stdErrors "errors"
	"net/http"
	"sync"
)

// statusRule 把上游返回的一段 HTTP 状态码映射到错误码。
type statusRule struct {
	lo, hi int
	code   Code
}

var (
	statusMu    sync.RWMutex
	statusRules []statusRule
)

// RegisterStatusRange 登记上游 HTTP 状态码区间 [lo, hi] 对应的错误码。
// 区间重叠时范围最窄的规则优先，例如单独登记的 429 会覆盖 400-499。
func RegisterStatusRange(lo, hi int, code Code) {
	if lo > hi {
		lo, hi = hi, lo
	}
	statusMu.Lock()
	statusRules = append(statusRules, statusRule{lo: lo, hi: hi, code: code})
	statusMu.Unlock()
}

// CodeForStatus 返回上游状态码对应的错误码，没有规则命中时返回 fallback。
func CodeForStatus(status int, fallback Code) Code {
	statusMu.RLock()
	defer statusMu.RUnlock()
	code, width := fallback, -1
	for _, r := range statusRules {
		if status < r.lo || status > r.hi {
			continue
		}
		if w := r.hi - r.lo; width < 0 || w < width {
			code, width = r.code, w
		}
	}
	return code
}

// HTTPStatus 返回错误对外暴露的 HTTP 状态码。
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if status := AttributesOf(CodeOf(err)).HTTPStatus; status > 0 {
		return status
	}
	return http.StatusInternalServerError
}
