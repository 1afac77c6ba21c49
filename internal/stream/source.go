package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"rpm-dashboard/internal/models"
)

// Handler 推送事件处理函数（按投递顺序逐条调用）
type Handler func(record models.VitalRecord)

// Source 推送通道：按患者订阅新的生命体征记录
type Source interface {
	// Subscribe 为单个患者打开一个推送订阅
	// 返回的 Subscription 由调用方独占持有，必须在换患者/卸载前 Close
	Subscribe(ctx context.Context, patientID string, fn Handler) (*Subscription, error)
}

// Subscription 单个患者的推送订阅句柄
type Subscription struct {
	ID        string // 订阅唯一标识
	PatientID string

	closeOnce sync.Once
	closeFn   func() error
}

// NewSubscription 创建订阅句柄（closeFn 负责取消订阅/关闭连接）
func NewSubscription(patientID string, closeFn func() error) *Subscription {
	return &Subscription{
		ID:        uuid.NewString(),
		PatientID: patientID,
		closeFn:   closeFn,
	}
}

// Close 释放订阅（幂等；只有首次调用真正执行取消）
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}

// pushEnvelope 推送消息体
// 生产端（Kafka producer 格式）用 "timestamp"，REST 记录用 "reading_timestamp"，两者都接受
type pushEnvelope struct {
	PatientID        string        `json:"patient_id"`
	DeviceID         string        `json:"device_id,omitempty"`
	Timestamp        string        `json:"timestamp,omitempty"`
	ReadingTimestamp string        `json:"reading_timestamp,omitempty"`
	Vitals           models.Vitals `json:"vitals"`
	StateClassified  string        `json:"state_classified"`
}

// DecodeRecord 解析一条推送消息为 VitalRecord
func DecodeRecord(payload []byte) (models.VitalRecord, error) {
	var env pushEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.VitalRecord{}, fmt.Errorf("failed to unmarshal push record: %w", err)
	}

	ts := env.ReadingTimestamp
	if ts == "" {
		ts = env.Timestamp
	}
	if ts == "" {
		return models.VitalRecord{}, fmt.Errorf("push record missing timestamp")
	}

	return models.VitalRecord{
		PatientID:        env.PatientID,
		DeviceID:         env.DeviceID,
		Vitals:           env.Vitals,
		StateClassified:  env.StateClassified,
		ReadingTimestamp: ts,
	}, nil
}
