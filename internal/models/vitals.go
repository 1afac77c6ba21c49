package models

import (
	"fmt"
	"strings"
	"time"
)

// 生命体征状态分类（由后端 edge classifier 给出）
const (
	StateNormal   = "Normal"
	StateWarning  = "Warning"
	StateCritical = "Critical"
)

// Vitals 单次读数中的生命体征
type Vitals struct {
	HeartRate   float64 `json:"heart_rate"`
	SpO2        float64 `json:"spo2"`
	Temperature float64 `json:"temperature"`
}

// VitalRecord 一条生命体征记录（后端产生，本端只读）
// reading_timestamp / created_at 使用 ISO8601 + 'Z' 格式
type VitalRecord struct {
	ID               int64  `json:"id,omitempty"`
	PatientID        string `json:"patient_id"`
	DeviceID         string `json:"device_id,omitempty"`
	Vitals           Vitals `json:"vitals"`
	StateClassified  string `json:"state_classified"`
	ReadingTimestamp string `json:"reading_timestamp"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// ReadingTime 解析读数时间戳
func (r *VitalRecord) ReadingTime() (time.Time, error) {
	return ParseTimestamp(r.ReadingTimestamp)
}

// ParseTimestamp 解析后端时间戳（ISO8601，兼容 'Z' 后缀和无时区两种写法）
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	// Flask 端 isoformat() 可能带小数秒、可能不带时区
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	v := strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
