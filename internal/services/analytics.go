package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// AnalyticsSink 外发统计落点。实现必须自行吞掉错误：
// 统计永远不影响发送正确性。
type AnalyticsSink interface {
	RecordSend(ctx context.Context, orgID uint, channel, outcome string)
}

// RedisSink 按 组织/渠道/结果/日 维度累加计数
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	logger    *logrus.Logger
}

func NewRedisSink(client *redis.Client, logger *logrus.Logger) *RedisSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisSink{
		client:    client,
		retention: 90 * 24 * time.Hour,
		logger:    logger,
	}
}

func (s *RedisSink) RecordSend(ctx context.Context, orgID uint, channel, outcome string) {
	key := buildSendKey(orgID, channel, outcome, time.Now())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warnf("analytics: record send failed: %v", err)
	}
}

// CountSends 读取某组织某天的发送计数（管理看板用）
func (s *RedisSink) CountSends(ctx context.Context, orgID uint, channel, outcome string, day time.Time) (int64, error) {
	n, err := s.client.Get(ctx, buildSendKey(orgID, channel, outcome, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func buildSendKey(orgID uint, channel, outcome string, t time.Time) string {
	return fmt.Sprintf("comm:o:%d:%s:%s:%s", orgID, channel, outcome, t.UTC().Format("20060102"))
}
