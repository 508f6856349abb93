package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fieldflow/internal/config"
	"fieldflow/internal/metrics"
	"fieldflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Processor 自动化处理器：轮询领取 pending 执行记录并交给 Executor。
// 多实例共存安全——领取走条件更新，抢不到的实例跳过该行。
type Processor struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	executor Executor
	bus      *EventBus
	cfg      config.AutomationConfig

	// tickMu 防止同一实例 tick 重入，整个 tick 期间持有
	tickMu sync.Mutex
}

func NewProcessor(db *gorm.DB, logger *logrus.Logger, executor Executor, cfg config.AutomationConfig) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ExecutorTimeout <= 0 {
		cfg.ExecutorTimeout = 30 * time.Second
	}
	return &Processor{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("fieldflow.processor"),
		executor: executor,
		cfg:      cfg,
	}
}

// WithEventBus 接入事件总线：新建执行记录时立刻唤醒，不等下个 tick
func (p *Processor) WithEventBus(bus *EventBus) *Processor {
	p.bus = bus
	return p
}

// Start 启动处理循环，阻塞直到 ctx 取消。先立即跑一次 tick。
func (p *Processor) Start(ctx context.Context) {
	p.logger.WithFields(logrus.Fields{
		"poll_interval": p.cfg.PollInterval.String(),
		"batch_size":    p.cfg.BatchSize,
	}).Info("automation processor started")

	var wake <-chan Event
	if p.bus != nil {
		ch, cancel := p.bus.Subscribe()
		defer cancel()
		wake = ch
	}

	p.Tick(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("automation processor stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		case ev, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if ev.Type == EventExecutionCreated {
				p.Tick(ctx)
			}
		}
	}
}

// Tick 处理一批 pending 执行记录，返回实际处理条数。
// 上一个 tick 未结束时直接返回 0。
func (p *Processor) Tick(ctx context.Context) int {
	if !p.tickMu.TryLock() {
		return 0
	}
	defer p.tickMu.Unlock()

	ctx, span := p.tracer.Start(ctx, "Processor.Tick")
	defer span.End()

	var pending []models.AutomationExecutionLog
	if err := p.db.WithContext(ctx).
		Where("status = ?", models.ExecutionStatusPending).
		Order("created_at ASC, id ASC").
		Limit(p.cfg.BatchSize).
		Find(&pending).Error; err != nil {
		p.logger.WithError(err).Error("failed to load pending executions")
		return 0
	}

	processed := 0
	for i := range pending {
		if ctx.Err() != nil {
			return processed
		}
		if p.processOne(ctx, &pending[i]) {
			processed++
		}
	}
	return processed
}

// processOne 领取并执行单条记录，领取失败（已被他人拿走）返回 false
func (p *Processor) processOne(ctx context.Context, execLog *models.AutomationExecutionLog) bool {
	now := time.Now()
	claim := p.db.WithContext(ctx).
		Model(&models.AutomationExecutionLog{}).
		Where("id = ? AND status = ?", execLog.ID, models.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ExecutionStatusRunning,
			"started_at": now,
		})
	if claim.Error != nil {
		p.logger.WithError(claim.Error).WithField("execution_id", execLog.ID).Error("failed to claim execution")
		return false
	}
	if claim.RowsAffected == 0 {
		// 已被其他实例领取或已取消
		return false
	}
	metrics.IncrExecutionsClaimed(1)

	result, err := p.runExecutor(ctx, execLog)
	p.finish(ctx, execLog, result, err)
	return true
}

func (p *Processor) runExecutor(ctx context.Context, execLog *models.AutomationExecutionLog) (*ExecutionResult, error) {
	var wf models.AutomationWorkflow
	if err := p.db.WithContext(ctx).First(&wf, execLog.WorkflowID).Error; err != nil {
		return nil, fmt.Errorf("load workflow %d: %w", execLog.WorkflowID, err)
	}

	tc, err := models.DecodeTriggerContext(execLog.TriggerContext)
	if err != nil {
		return nil, fmt.Errorf("decode trigger context: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutorTimeout)
	defer cancel()
	return p.executor.Run(runCtx, execLog, &wf, tc)
}

// finish 以条件更新落终态，只允许 running 行被收尾
func (p *Processor) finish(ctx context.Context, execLog *models.AutomationExecutionLog, result *ExecutionResult, runErr error) {
	now := time.Now()
	updates := map[string]interface{}{
		"completed_at": now,
	}

	switch {
	case runErr != nil:
		updates["status"] = models.ExecutionStatusFailed
		updates["error_message"] = runErr.Error()
		metrics.IncrExecutionsFailed()
	case result != nil && !result.Success:
		updates["status"] = models.ExecutionStatusFailed
		updates["error_message"] = summarizeFailures(result)
		metrics.IncrExecutionsFailed()
	default:
		updates["status"] = models.ExecutionStatusCompleted
		metrics.IncrExecutionsCompleted()
	}
	if result != nil && len(result.Results) > 0 {
		if encoded, err := json.Marshal(result.Results); err == nil {
			updates["action_results"] = string(encoded)
		}
	}

	res := p.db.WithContext(ctx).
		Model(&models.AutomationExecutionLog{}).
		Where("id = ? AND status = ?", execLog.ID, models.ExecutionStatusRunning).
		Updates(updates)
	if res.Error != nil {
		p.logger.WithError(res.Error).WithField("execution_id", execLog.ID).Error("failed to finalize execution")
		return
	}
	if res.RowsAffected == 0 {
		p.logger.WithField("execution_id", execLog.ID).Warn("execution no longer running, skip finalize")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"execution_id": execLog.ID,
		"workflow_id":  execLog.WorkflowID,
		"status":       updates["status"],
	}).Info("execution finished")

	if p.bus != nil {
		p.bus.Publish(Event{Type: EventExecutionUpdated, Payload: map[string]interface{}{
			"execution_id": execLog.ID,
			"status":       updates["status"],
		}})
	}
}

func summarizeFailures(result *ExecutionResult) string {
	for _, r := range result.Results {
		if r.Status == "failed" && r.Detail != "" {
			return r.Detail
		}
	}
	return "execution failed"
}

// ExpireStalePending 将超过阈值仍未被处理的 pending 记录置为 expired
func (p *Processor) ExpireStalePending(ctx context.Context) (int64, error) {
	if p.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-p.cfg.StaleAfter)
	res := p.db.WithContext(ctx).
		Model(&models.AutomationExecutionLog{}).
		Where("status = ? AND created_at < ?", models.ExecutionStatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":        models.ExecutionStatusExpired,
			"error_message": "stale pending execution expired",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		metrics.IncrExecutionsExpired(res.RowsAffected)
		p.logger.WithField("count", res.RowsAffected).Info("expired stale pending executions")
	}
	return res.RowsAffected, nil
}

// ReapStuckRunning 将超出租约的 running 记录判为 failed。
// 执行函数不可重放，租约到期不回退 pending。
func (p *Processor) ReapStuckRunning(ctx context.Context) (int64, error) {
	if p.cfg.RunningLease <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-p.cfg.RunningLease)
	now := time.Now()
	res := p.db.WithContext(ctx).
		Model(&models.AutomationExecutionLog{}).
		Where("status = ? AND started_at < ?", models.ExecutionStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":        models.ExecutionStatusFailed,
			"error_message": "running lease expired",
			"completed_at":  now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		p.logger.WithField("count", res.RowsAffected).Warn("reaped stuck running executions")
		for i := int64(0); i < res.RowsAffected; i++ {
			metrics.IncrExecutionsFailed()
		}
	}
	return res.RowsAffected, nil
}

// Sweep 定时巡检：过期 pending + 回收卡死 running
func (p *Processor) Sweep(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "Processor.Sweep")
	defer span.End()

	if _, err := p.ExpireStalePending(ctx); err != nil {
		p.logger.WithError(err).Error("sweep: expire stale pending failed")
	}
	if _, err := p.ReapStuckRunning(ctx); err != nil {
		p.logger.WithError(err).Error("sweep: reap stuck running failed")
	}
}

// StopAndClear 运维开关：把所有未完成的执行记录置为 expired
func (p *Processor) StopAndClear(ctx context.Context) (int64, error) {
	res := p.db.WithContext(ctx).
		Model(&models.AutomationExecutionLog{}).
		Where("status IN ?", []models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning}).
		Updates(map[string]interface{}{
			"status":        models.ExecutionStatusExpired,
			"error_message": "cleared by operator",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	metrics.IncrExecutionsExpired(res.RowsAffected)
	p.logger.WithField("count", res.RowsAffected).Warn("stopped and cleared incomplete executions")
	return res.RowsAffected, nil
}

// CancelExecution 取消一条尚未开始的执行记录，已领取的不可取消
func (p *Processor) CancelExecution(ctx context.Context, orgID, executionID uint) error {
	res := p.db.WithContext(ctx).
		Model(&models.AutomationExecutionLog{}).
		Where("id = ? AND organization_id = ? AND status = ?", executionID, orgID, models.ExecutionStatusPending).
		Update("status", models.ExecutionStatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("execution %d is not pending", executionID)
	}
	return nil
}
