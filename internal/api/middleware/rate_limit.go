package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meetscribe/voice-service/internal/config"
)

type rateWindow struct {
	count int
	start time.Time
}

// RateLimit 按客户端 IP 的固定窗口限流
func RateLimit(cfg *config.RateLimit) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	var mu sync.Mutex
	windows := make(map[string]*rateWindow)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		w, ok := windows[ip]
		if !ok || now.Sub(w.start) >= time.Minute {
			w = &rateWindow{start: now}
			windows[ip] = w
		}
		w.count++
		exceeded := w.count > cfg.RequestsPerMinute
		// 偶发清理过期窗口，避免 map 无界增长
		if len(windows) > 10000 {
			for k, v := range windows {
				if now.Sub(v.start) >= time.Minute {
					delete(windows, k)
				}
			}
		}
		mu.Unlock()

		if exceeded {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
