package models

import "encoding/json"

// SummaryPeriod LLM 总结覆盖的时间范围
type SummaryPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Summary LLM 生成的分诊总结（每次轮询整体替换，无合并语义）
type Summary struct {
	ID             int64           `json:"id,omitempty"`
	PatientID      string          `json:"patient_id"`
	SummaryText    string          `json:"summary_text"`
	Recommendation string          `json:"recommendation,omitempty"`
	RiskScore      float64         `json:"risk_score"`
	TriageLevel    string          `json:"triage_level,omitempty"`
	StructuredJSON json.RawMessage `json:"structured_json,omitempty"`
	Period         SummaryPeriod   `json:"period"`
	ModelVersion   string          `json:"model_version,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

// Stats 系统整体统计（/api/stats）
type Stats struct {
	TotalRecords int            `json:"total_records"`
	PatientCount int            `json:"patient_count"`
	ByState      map[string]int `json:"by_state"`
}
