// Package limiter counts requests per wall-clock minute and reports overload.
package limiter

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	DefaultRequestsPerMinute = 1000

	RetryAfterSeconds = "60"
)

type Window struct {
	mu     sync.Mutex
	limit  int
	minute int64
	count  int
	now    func() time.Time
}

func NewWindow(limit int) *Window {
	if limit <= 0 {
		limit = DefaultRequestsPerMinute
	}
	return &Window{limit: limit, now: time.Now}
}

// Allow counts one request and reports whether the current minute is still
// within the limit.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	minute := w.now().Unix() / 60
	if minute != w.minute {
		w.minute = minute
		w.count = 0
	}
	w.count++
	return w.count <= w.limit
}

// Count is the number of requests seen in the current minute.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.now().Unix()/60 != w.minute {
		return 0
	}
	return w.count
}

// Reset drops the current count.
func (w *Window) Reset() {
	w.mu.Lock()
	w.count = 0
	w.mu.Unlock()
}

// Middleware answers 503 for API calls over the limit. Analytics stays
// reachable; page requests are sent to /overload.
func Middleware(w *Window, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if exempt(path) {
			c.Next()
			return
		}
		if w.Allow() {
			c.Next()
			return
		}

		log.Error("server overload detected", zap.String("reason", "high request rate"), zap.String("path", path))
		if strings.HasPrefix(path, "/api/") {
			c.Header("Retry-After", RetryAfterSeconds)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"message": "error", "error": "Server temporarily overloaded. Please try again later."})
			return
		}
		c.Redirect(http.StatusFound, "/overload")
		c.Abort()
	}
}

func exempt(path string) bool {
	return strings.HasPrefix(path, "/api/analytics") ||
		strings.HasPrefix(path, "/assets") ||
		path == "/favicon.ico" ||
		path == "/overload"
}
