package stream

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rpm-dashboard/internal/config"
	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/mqtt"
)

// MQTTSource 基于 MQTT 的推送通道
// 主题格式: {prefix}{patient_id}，如 "vitals/patient-a1"
// 断线重连由底层客户端处理（重连后自动恢复订阅）
type MQTTSource struct {
	client *mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewMQTTSource 创建 MQTT 推送通道
func NewMQTTSource(client *mqtt.Client, cfg *config.MQTTConfig, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		client: client,
		config: cfg,
		logger: logger,
	}
}

// Subscribe 订阅单个患者的生命体征主题
func (s *MQTTSource) Subscribe(ctx context.Context, patientID string, fn Handler) (*Subscription, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient id is required")
	}
	topic := s.config.TopicPrefix + patientID

	handler := func(msgTopic string, payload []byte) error {
		record, err := decodeTopicRecord(msgTopic, s.config.TopicPrefix, payload)
		if err != nil {
			return err
		}
		fn(record)
		return nil
	}

	if err := s.client.Subscribe(topic, s.config.QoS, handler); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	s.logger.Info("MQTT subscription opened",
		zap.String("patient_id", patientID),
		zap.String("topic", topic),
	)

	return NewSubscription(patientID, func() error {
		s.logger.Info("MQTT subscription closed",
			zap.String("patient_id", patientID),
			zap.String("topic", topic),
		)
		return s.client.Unsubscribe(topic)
	}), nil
}

// decodeTopicRecord 解析消息并校验主题与患者的一致性
// 载荷里的 patient_id 为空时用主题段补齐；不一致则丢弃（跨患者消息）
func decodeTopicRecord(topic, prefix string, payload []byte) (models.VitalRecord, error) {
	topicPatient := strings.TrimPrefix(topic, prefix)
	if topicPatient == "" || strings.Contains(topicPatient, "/") {
		return models.VitalRecord{}, fmt.Errorf("invalid topic format: %s", topic)
	}

	record, err := DecodeRecord(payload)
	if err != nil {
		return models.VitalRecord{}, err
	}

	if record.PatientID == "" {
		record.PatientID = topicPatient
	} else if record.PatientID != topicPatient {
		return models.VitalRecord{}, fmt.Errorf("patient mismatch: topic %s, payload %s", topicPatient, record.PatientID)
	}
	return record, nil
}
