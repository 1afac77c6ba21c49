package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rpm-dashboard/internal/api"
	"rpm-dashboard/internal/config"
	"rpm-dashboard/internal/export"
	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/monitor"
	"rpm-dashboard/internal/mqtt"
	"rpm-dashboard/internal/poller"
	"rpm-dashboard/internal/redis"
	"rpm-dashboard/internal/stream"
)

// Backend 看板依赖的后端只读接口（*api.Client 实现）
type Backend interface {
	monitor.HistoryFetcher
	monitor.AlertsFetcher
	monitor.SummariesFetcher
	monitor.StatsFetcher
}

// patientView 单个患者挂载的全部控件
type patientView struct {
	session   *monitor.Session
	alerts    *monitor.AlertsWidget
	summaries *monitor.SummariesWidget
}

// DashboardService 看板服务
// 每个已挂载患者独占一个会话（时序+推送订阅）和两个轮询控件；
// 换患者 = 先卸载旧会话（恰好一次 detach）再挂载新会话。
type DashboardService struct {
	config  *config.Config
	logger  *zap.Logger
	backend Backend
	source  stream.Source

	mqttClient  *mqtt.Client
	redisClient *redis.Client

	mu       sync.Mutex
	views    map[string]*patientView
	stats    *monitor.StatsWidget
	renderer *poller.Poller
}

// NewDashboardService 创建看板服务（按配置选择推送通道）
func NewDashboardService(cfg *config.Config, logger *zap.Logger) (*DashboardService, error) {
	backend := api.NewClient(&cfg.API, logger)

	svc := newDashboardService(cfg, logger, backend, nil)

	switch cfg.Dashboard.Channel {
	case config.ChannelMQTT:
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		svc.mqttClient = mqttClient
		svc.source = stream.NewMQTTSource(mqttClient, &cfg.MQTT, logger)

	case config.ChannelRedis:
		redisClient := redis.NewClient(&cfg.Redis)
		if err := redis.Ping(context.Background(), redisClient); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		svc.redisClient = redisClient
		svc.source = stream.NewRedisSource(redisClient, &cfg.Redis, logger)

	default:
		return nil, fmt.Errorf("unknown push channel: %s", cfg.Dashboard.Channel)
	}

	return svc, nil
}

// newDashboardService 依赖注入构造（单元测试用）
func newDashboardService(cfg *config.Config, logger *zap.Logger, backend Backend, source stream.Source) *DashboardService {
	return &DashboardService{
		config:  cfg,
		logger:  logger,
		backend: backend,
		source:  source,
		views:   make(map[string]*patientView),
		stats:   monitor.NewStatsWidget(backend, cfg.Dashboard.StatsInterval, logger),
	}
}

// Start 启动服务：挂载配置的患者，启动统计轮询与快照渲染，阻塞到上下文取消
func (s *DashboardService) Start(ctx context.Context) error {
	if err := s.stats.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stats widget: %w", err)
	}

	for _, patientID := range s.config.Dashboard.PatientIDs {
		if err := s.Mount(ctx, patientID); err != nil {
			return fmt.Errorf("failed to mount patient %s: %w", patientID, err)
		}
	}

	s.mu.Lock()
	s.renderer = poller.New("render", s.config.Dashboard.RenderInterval, s.logger)
	renderer := s.renderer
	s.mu.Unlock()

	if err := renderer.Start(ctx, s.renderSnapshot); err != nil {
		return fmt.Errorf("failed to start renderer: %w", err)
	}

	s.logger.Info("Dashboard service started",
		zap.Strings("patients", s.config.Dashboard.PatientIDs),
		zap.String("channel", s.config.Dashboard.Channel),
	)

	<-ctx.Done()
	return nil
}

// Mount 挂载一个患者：会话（历史+推送）与报警/总结轮询控件
func (s *DashboardService) Mount(ctx context.Context, patientID string) error {
	s.mu.Lock()
	if _, exists := s.views[patientID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("patient %s already mounted", patientID)
	}
	view := &patientView{
		session: monitor.NewSession(
			patientID,
			s.backend,
			s.source,
			s.config.Dashboard.WindowHours,
			s.config.Dashboard.HistoryLimit,
			s.logger,
		),
		alerts: monitor.NewAlertsWidget(
			patientID,
			s.backend,
			s.config.Dashboard.AlertsLimit,
			s.config.Dashboard.AlertsInterval,
			s.logger,
		),
		summaries: monitor.NewSummariesWidget(
			patientID,
			s.backend,
			s.config.Dashboard.SummariesLimit,
			s.config.Dashboard.SummariesInterval,
			s.logger,
		),
	}
	s.views[patientID] = view
	s.mu.Unlock()

	if err := view.session.Start(ctx); err != nil {
		s.unmountView(patientID)
		return err
	}
	if err := view.alerts.Start(ctx); err != nil {
		s.unmountView(patientID)
		return err
	}
	if err := view.summaries.Start(ctx); err != nil {
		s.unmountView(patientID)
		return err
	}

	s.logger.Info("Patient mounted", zap.String("patient_id", patientID))
	return nil
}

// Unmount 卸载一个患者：关闭会话（释放推送订阅）并停止轮询
func (s *DashboardService) Unmount(patientID string) error {
	if !s.unmountView(patientID) {
		return fmt.Errorf("patient %s not mounted", patientID)
	}
	s.logger.Info("Patient unmounted", zap.String("patient_id", patientID))
	return nil
}

func (s *DashboardService) unmountView(patientID string) bool {
	s.mu.Lock()
	view, exists := s.views[patientID]
	delete(s.views, patientID)
	s.mu.Unlock()

	if !exists {
		return false
	}
	view.session.Close()
	view.alerts.Stop()
	view.summaries.Stop()
	return true
}

// SwitchPatient 换患者：先完成旧会话的 detach，再为新患者 attach
func (s *DashboardService) SwitchPatient(ctx context.Context, oldPatientID, newPatientID string) error {
	if err := s.Unmount(oldPatientID); err != nil {
		return err
	}
	return s.Mount(ctx, newPatientID)
}

// MountedPatients 当前已挂载的患者
func (s *DashboardService) MountedPatients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.views))
	for patientID := range s.views {
		out = append(out, patientID)
	}
	return out
}

// PatientSnapshot 单个患者的完整看板快照
type PatientSnapshot struct {
	Session    monitor.Snapshot
	AlertCount int
	Summaries  []models.Summary
	SummaryErr string
}

// Snapshot 单个患者的当前快照
func (s *DashboardService) Snapshot(patientID string) (*PatientSnapshot, error) {
	s.mu.Lock()
	view, exists := s.views[patientID]
	s.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("patient %s not mounted", patientID)
	}

	summaries, summaryErr := view.summaries.Summaries()
	return &PatientSnapshot{
		Session:    view.session.Snapshot(),
		AlertCount: view.alerts.Count(),
		Summaries:  summaries,
		SummaryErr: summaryErr,
	}, nil
}

// ExportReport 导出单个患者的 Excel 报表
func (s *DashboardService) ExportReport(patientID string) ([]byte, error) {
	snap, err := s.Snapshot(patientID)
	if err != nil {
		return nil, err
	}

	return export.WriteVitalsReport(export.Report{
		PatientID:   patientID,
		GeneratedAt: time.Now(),
		Points:      snap.Session.Points,
		Summaries:   snap.Summaries,
	})
}

// renderSnapshot 控制台快照渲染（轻量展示层）
func (s *DashboardService) renderSnapshot(ctx context.Context) {
	stats := s.stats.Stats()
	s.logger.Info("System stats",
		zap.Int("total_records", stats.TotalRecords),
		zap.Int("patient_count", stats.PatientCount),
		zap.Int("critical", stats.ByState[models.StateCritical]),
	)

	for _, patientID := range s.MountedPatients() {
		snap, err := s.Snapshot(patientID)
		if err != nil {
			continue
		}

		fields := []zap.Field{
			zap.String("patient_id", patientID),
			zap.String("state", string(snap.Session.State)),
			zap.Int("points", len(snap.Session.Points)),
			zap.Float64("axis_lower", snap.Session.AxisLower),
			zap.Float64("axis_upper", snap.Session.AxisUpper),
			zap.Int("alerts", snap.AlertCount),
			zap.Int("summaries", len(snap.Summaries)),
		}
		if last, ok := lastPoint(snap); ok {
			fields = append(fields,
				zap.Float64("last_heart_rate", last.HeartRate),
				zap.String("last_reading", last.DisplayTime),
			)
		}
		if snap.Session.Error != "" {
			fields = append(fields, zap.String("error", snap.Session.Error))
		}
		if snap.SummaryErr != "" {
			fields = append(fields, zap.String("summary_error", snap.SummaryErr))
		}

		s.logger.Info("Patient snapshot", fields...)
	}
}

func lastPoint(snap *PatientSnapshot) (p struct {
	HeartRate   float64
	DisplayTime string
}, ok bool) {
	points := snap.Session.Points
	if len(points) == 0 {
		return p, false
	}
	last := points[len(points)-1]
	p.HeartRate = last.HeartRate
	p.DisplayTime = last.DisplayTime
	return p, true
}

// Stop 停止服务：卸载全部患者，停止轮询，断开外部连接
func (s *DashboardService) Stop(ctx context.Context) error {
	s.mu.Lock()
	renderer := s.renderer
	s.renderer = nil
	patients := make([]string, 0, len(s.views))
	for patientID := range s.views {
		patients = append(patients, patientID)
	}
	s.mu.Unlock()

	if renderer != nil {
		renderer.Stop()
	}

	for _, patientID := range patients {
		s.unmountView(patientID)
	}

	s.stats.Stop()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := redis.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}

	s.logger.Info("Dashboard service stopped")
	return nil
}
