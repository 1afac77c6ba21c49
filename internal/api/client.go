package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"rpm-dashboard/internal/config"
	"rpm-dashboard/internal/models"
)

// BackendError 后端返回的应用层错误（HTTP 响应体为 {error, message}）
// 与传输层错误区分：调用方用 errors.As 判断
type BackendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (%d): %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error (%d): %s", e.StatusCode, e.Code)
}

// errorEnvelope 后端错误响应体
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// VitalsPage /api/vitals/{patient_id} 响应（records 按时间倒序返回）
type VitalsPage struct {
	PatientID   string               `json:"patient_id"`
	PeriodHours int                  `json:"period_hours"`
	Count       int                  `json:"count"`
	Records     []models.VitalRecord `json:"records"`
}

// AlertsPage /api/alerts/{patient_id} 响应（Critical 记录）
type AlertsPage struct {
	PatientID string               `json:"patient_id"`
	AlertType string               `json:"alert_type"`
	Count     int                  `json:"count"`
	Alerts    []models.VitalRecord `json:"alerts"`
}

// SummariesPage /api/summaries/{patient_id} 响应
type SummariesPage struct {
	PatientID string           `json:"patient_id"`
	Count     int              `json:"count"`
	Summaries []models.Summary `json:"summaries"`
}

// Client RPM 后端 REST API 客户端（四个只读端点）
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建 API 客户端
func NewClient(cfg *config.APIConfig, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// GetVitals 拉取患者历史生命体征（最近 hours 小时内最多 limit 条，倒序）
func (c *Client) GetVitals(ctx context.Context, patientID string, hours, limit int) (*VitalsPage, error) {
	var page VitalsPage
	if err := c.get(ctx, "/vitals/"+patientID, map[string]string{
		"hours": strconv.Itoa(hours),
		"limit": strconv.Itoa(limit),
	}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAlerts 拉取患者 Critical 报警记录
func (c *Client) GetAlerts(ctx context.Context, patientID string, limit int) (*AlertsPage, error) {
	var page AlertsPage
	if err := c.get(ctx, "/alerts/"+patientID, map[string]string{
		"limit": strconv.Itoa(limit),
	}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetSummaries 拉取患者 LLM 分诊总结
func (c *Client) GetSummaries(ctx context.Context, patientID string, limit int) (*SummariesPage, error) {
	var page SummariesPage
	if err := c.get(ctx, "/summaries/"+patientID, map[string]string{
		"limit": strconv.Itoa(limit),
	}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetStats 拉取系统整体统计
func (c *Client) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	if err := c.get(ctx, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// get 发起 GET 请求并解析响应
// 传输层失败返回包装错误；后端 {error, message} 返回 *BackendError
func (c *Client) get(ctx context.Context, path string, query map[string]string, result interface{}) error {
	req := c.httpClient.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}

	if resp.IsError() {
		var envelope errorEnvelope
		if jsonErr := json.Unmarshal(resp.Body(), &envelope); jsonErr != nil || envelope.Error == "" {
			envelope.Error = resp.Status()
		}
		c.logger.Warn("API returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("error", envelope.Error),
		)
		return &BackendError{
			StatusCode: resp.StatusCode(),
			Code:       envelope.Error,
			Message:    envelope.Message,
		}
	}

	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
