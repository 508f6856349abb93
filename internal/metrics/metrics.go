package metrics

import (
	"sync/atomic"
	"time"
)

// 进程内计数器，/metrics 接口读取。无外部依赖，重启清零。
var (
	startTime = time.Now()

	executionsClaimed   int64
	executionsCompleted int64
	executionsFailed    int64
	executionsExpired   int64
	smsSent             int64
	smsFailed           int64
	emailSent           int64
	emailFailed         int64
	portalResolves      int64
	portalRejects       int64
)

func IncrExecutionsClaimed(n int64)   { atomic.AddInt64(&executionsClaimed, n) }
func IncrExecutionsCompleted()        { atomic.AddInt64(&executionsCompleted, 1) }
func IncrExecutionsFailed()           { atomic.AddInt64(&executionsFailed, 1) }
func IncrExecutionsExpired(n int64)   { atomic.AddInt64(&executionsExpired, n) }
func IncrSMSSent()                    { atomic.AddInt64(&smsSent, 1) }
func IncrSMSFailed()                  { atomic.AddInt64(&smsFailed, 1) }
func IncrEmailSent()                  { atomic.AddInt64(&emailSent, 1) }
func IncrEmailFailed()                { atomic.AddInt64(&emailFailed, 1) }
func IncrPortalResolves()             { atomic.AddInt64(&portalResolves, 1) }
func IncrPortalRejects()              { atomic.AddInt64(&portalRejects, 1) }

// Snapshot 返回当前计数快照
func Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds":       int64(time.Since(startTime).Seconds()),
		"executions_claimed":   atomic.LoadInt64(&executionsClaimed),
		"executions_completed": atomic.LoadInt64(&executionsCompleted),
		"executions_failed":    atomic.LoadInt64(&executionsFailed),
		"executions_expired":   atomic.LoadInt64(&executionsExpired),
		"sms_sent":             atomic.LoadInt64(&smsSent),
		"sms_failed":           atomic.LoadInt64(&smsFailed),
		"email_sent":           atomic.LoadInt64(&emailSent),
		"email_failed":         atomic.LoadInt64(&emailFailed),
		"portal_resolves":      atomic.LoadInt64(&portalResolves),
		"portal_rejects":       atomic.LoadInt64(&portalRejects),
	}
}

// Reset 测试用
func Reset() {
	atomic.StoreInt64(&executionsClaimed, 0)
	atomic.StoreInt64(&executionsCompleted, 0)
	atomic.StoreInt64(&executionsFailed, 0)
	atomic.StoreInt64(&executionsExpired, 0)
	atomic.StoreInt64(&smsSent, 0)
	atomic.StoreInt64(&smsFailed, 0)
	atomic.StoreInt64(&emailSent, 0)
	atomic.StoreInt64(&emailFailed, 0)
	atomic.StoreInt64(&portalResolves, 0)
	atomic.StoreInt64(&portalRejects, 0)
}
