package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	headerRequestID = "X-Request-Id"
	headerCaller    = "X-Caller"
	ctxRequestID    = "request_id"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "sealedbid_api_request_duration_seconds",
	Help:    "API request latency by route and status",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func accessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		requestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		entry := log.WithFields(logrus.Fields{
			"request_id": c.GetString(ctxRequestID),
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency":    elapsed,
		})
		if status >= 500 {
			entry.Error("request failed")
		} else {
			entry.Debug("request served")
		}
	}
}

// rateLimit rejects requests once limiter runs dry. A nil limiter admits
// everything.
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			abort(c, errRateLimited)
			return
		}
		c.Next()
	}
}
