package stream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rpm-dashboard/internal/config"
	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/redis"
)

// RedisSource 基于 Redis Streams 的推送通道变体
// Stream 格式: {prefix}{patient_id}，如 "vitals:stream:patient-a1"
// 读循环指数退避（1s~30s），单条消息处理失败不中断
type RedisSource struct {
	client *redis.Client
	config *config.RedisConfig
	logger *zap.Logger
}

// NewRedisSource 创建 Redis Streams 推送通道
func NewRedisSource(client *redis.Client, cfg *config.RedisConfig, logger *zap.Logger) *RedisSource {
	return &RedisSource{
		client: client,
		config: cfg,
		logger: logger,
	}
}

// Subscribe 订阅单个患者的生命体征 Stream
func (s *RedisSource) Subscribe(ctx context.Context, patientID string, fn Handler) (*Subscription, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient id is required")
	}
	streamName := s.config.StreamPrefix + patientID

	if err := redis.CreateConsumerGroup(ctx, s.client, streamName, s.config.ConsumerGroup); err != nil {
		return nil, fmt.Errorf("failed to create consumer group for %s: %w", streamName, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go s.consumeLoop(loopCtx, streamName, patientID, fn, done)

	s.logger.Info("Redis stream subscription opened",
		zap.String("patient_id", patientID),
		zap.String("stream", streamName),
		zap.String("consumer_group", s.config.ConsumerGroup),
	)

	return NewSubscription(patientID, func() error {
		cancel()
		<-done
		s.logger.Info("Redis stream subscription closed",
			zap.String("patient_id", patientID),
			zap.String("stream", streamName),
		)
		return nil
	}), nil
}

// consumeLoop 消费循环：阻塞读取，失败时指数退避，成功后重置
func (s *RedisSource) consumeLoop(ctx context.Context, streamName, patientID string, fn Handler, done chan<- struct{}) {
	defer close(done)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := redis.ReadFromStream(
			ctx,
			s.client,
			streamName,
			s.config.ConsumerGroup,
			s.config.ConsumerName,
			s.config.BatchSize,
			time.Second,
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to read from stream",
				zap.String("stream", streamName),
				zap.Duration("backoff", backoffDuration),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second

		for _, msg := range messages {
			record, err := decodeStreamRecord(msg, patientID)
			if err != nil {
				s.logger.Warn("Failed to decode stream message",
					zap.String("stream", streamName),
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			} else {
				fn(record)
			}
			// 解码失败的消息也确认掉，避免死信反复投递
			if err := redis.AckMessage(ctx, s.client, streamName, s.config.ConsumerGroup, msg.ID); err != nil && ctx.Err() == nil {
				s.logger.Warn("Failed to ack message",
					zap.String("stream", streamName),
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// decodeStreamRecord 解析一条 Stream 消息（"data" 字段为 JSON 记录）
func decodeStreamRecord(msg redis.StreamMessage, patientID string) (models.VitalRecord, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return models.VitalRecord{}, fmt.Errorf("stream message missing data field")
	}

	record, err := DecodeRecord([]byte(raw))
	if err != nil {
		return models.VitalRecord{}, err
	}

	if record.PatientID == "" {
		record.PatientID = patientID
	} else if record.PatientID != patientID {
		return models.VitalRecord{}, fmt.Errorf("patient mismatch: stream %s, payload %s", patientID, record.PatientID)
	}
	return record, nil
}
