package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// JobService 工单服务。状态变更是自动化的主要触发源。
type JobService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	tracer     trace.Tracer
	automation *AutomationService
}

func NewJobService(db *gorm.DB, logger *logrus.Logger, automation *AutomationService) *JobService {
	if logger == nil {
		logger = logrus.New()
	}
	return &JobService{
		db:         db,
		logger:     logger,
		tracer:     otel.Tracer("fieldflow.job"),
		automation: automation,
	}
}

// JobRequest 创建/更新工单请求
type JobRequest struct {
	ClientID     uint       `json:"client_id" binding:"required"`
	Title        string     `json:"title" binding:"required"`
	Description  string     `json:"description"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	Total        float64    `json:"total"`
}

func (s *JobService) CreateJob(ctx context.Context, orgID uint, req *JobRequest) (*models.Job, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", req.ClientID, orgID).
		First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("client %d not found", req.ClientID)
		}
		return nil, err
	}

	job := &models.Job{
		OrganizationID: orgID,
		ClientID:       req.ClientID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         "Scheduled",
		ScheduledFor:   req.ScheduledFor,
		Total:          req.Total,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, orgID, id uint) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Preload("Client").
		Where("id = ? AND organization_id = ?", id, orgID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobService) ListJobs(ctx context.Context, orgID uint, status string, page, pageSize int) ([]models.Job, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Job{}).Where("organization_id = ?", orgID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []models.Job
	err := query.Preload("Client").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&jobs).Error
	return jobs, total, err
}

// UpdateJobStatus 更新工单状态并发出 job_status_changed 触发事件。
// 状态写库成功后触发自动化；自动化失败不回滚状态。
func (s *JobService) UpdateJobStatus(ctx context.Context, orgID, id uint, newStatus string) (*models.Job, error) {
	ctx, span := s.tracer.Start(ctx, "JobService.UpdateJobStatus")
	defer span.End()

	if !models.IsValidJobStatus(newStatus) {
		return nil, fmt.Errorf("invalid job status: %s", newStatus)
	}

	var job models.Job
	if err := s.db.WithContext(ctx).Preload("Client").Preload("Organization").
		Where("id = ? AND organization_id = ?", id, orgID).
		First(&job).Error; err != nil {
		return nil, err
	}

	previousStatus := job.Status
	if previousStatus == newStatus {
		return &job, nil
	}

	updates := map[string]interface{}{"status": newStatus}
	if newStatus == "Completed" {
		now := time.Now()
		updates["completed_at"] = now
	}
	if err := s.db.WithContext(ctx).Model(&job).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	job.Status = newStatus

	s.logger.WithFields(logrus.Fields{
		"job_id":          job.ID,
		"organization_id": orgID,
		"from":            previousStatus,
		"to":              newStatus,
	}).Info("job status changed")

	if s.automation != nil {
		tc := &models.TriggerContext{
			Job:     models.SnapshotJob(&job, previousStatus),
			Client:  models.SnapshotClient(&job.Client),
			Company: models.SnapshotCompany(&job.Organization),
		}
		s.automation.OnEvent(ctx, orgID, models.TriggerJobStatusChanged, tc)
	}
	return &job, nil
}
