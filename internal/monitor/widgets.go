package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rpm-dashboard/internal/api"
	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/poller"
)

// AlertsFetcher 报警计数拉取接口
type AlertsFetcher interface {
	GetAlerts(ctx context.Context, patientID string, limit int) (*api.AlertsPage, error)
}

// SummariesFetcher 分诊总结拉取接口
type SummariesFetcher interface {
	GetSummaries(ctx context.Context, patientID string, limit int) (*api.SummariesPage, error)
}

// StatsFetcher 系统统计拉取接口
type StatsFetcher interface {
	GetStats(ctx context.Context) (*models.Stats, error)
}

// AlertsWidget Critical 报警计数控件
// 固定间隔轮询，成功时整体替换计数；失败静默降级为 0
// （报警缺失按"无报警"展示是安全默认，不渲染错误横幅）
type AlertsWidget struct {
	patientID string
	limit     int
	fetcher   AlertsFetcher
	poller    *poller.Poller
	logger    *zap.Logger

	mu    sync.Mutex
	count int
}

// NewAlertsWidget 创建报警控件
func NewAlertsWidget(patientID string, fetcher AlertsFetcher, limit int, interval time.Duration, logger *zap.Logger) *AlertsWidget {
	return &AlertsWidget{
		patientID: patientID,
		limit:     limit,
		fetcher:   fetcher,
		poller:    poller.New("alerts:"+patientID, interval, logger),
		logger:    logger,
	}
}

// Start 启动轮询（挂载时调用，立即拉取一次）
func (w *AlertsWidget) Start(ctx context.Context) error {
	return w.poller.Start(ctx, w.refresh)
}

// Stop 停止轮询（卸载时调用）
func (w *AlertsWidget) Stop() {
	w.poller.Stop()
}

// Count 当前报警计数
func (w *AlertsWidget) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *AlertsWidget) refresh(ctx context.Context) {
	page, err := w.fetcher.GetAlerts(ctx, w.patientID, w.limit)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.count = 0
		w.logger.Debug("Alerts fetch failed, degrading to zero",
			zap.String("patient_id", w.patientID),
			zap.Error(err),
		)
		return
	}
	w.count = page.Count
}

// SummariesWidget LLM 分诊总结控件
// 固定间隔轮询，成功时整体替换列表；失败时展示错误文案
// （缺失的分诊总结必须向临床人员解释，不能静默）
type SummariesWidget struct {
	patientID string
	limit     int
	fetcher   SummariesFetcher
	poller    *poller.Poller
	logger    *zap.Logger

	mu        sync.Mutex
	summaries []models.Summary
	errMsg    string
}

// NewSummariesWidget 创建总结控件
func NewSummariesWidget(patientID string, fetcher SummariesFetcher, limit int, interval time.Duration, logger *zap.Logger) *SummariesWidget {
	return &SummariesWidget{
		patientID: patientID,
		limit:     limit,
		fetcher:   fetcher,
		poller:    poller.New("summaries:"+patientID, interval, logger),
		logger:    logger,
	}
}

// Start 启动轮询
func (w *SummariesWidget) Start(ctx context.Context) error {
	return w.poller.Start(ctx, w.refresh)
}

// Stop 停止轮询
func (w *SummariesWidget) Stop() {
	w.poller.Stop()
}

// Summaries 当前总结列表与错误文案（二者互斥）
func (w *SummariesWidget) Summaries() ([]models.Summary, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Summary, len(w.summaries))
	copy(out, w.summaries)
	return out, w.errMsg
}

func (w *SummariesWidget) refresh(ctx context.Context) {
	page, err := w.fetcher.GetSummaries(ctx, w.patientID, w.limit)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.summaries = nil
		w.errMsg = "暂时无法获取分诊总结，请稍后重试"
		w.logger.Warn("Summaries fetch failed",
			zap.String("patient_id", w.patientID),
			zap.Error(err),
		)
		return
	}
	w.summaries = page.Summaries
	w.errMsg = ""
}

// StatsWidget 系统整体统计控件（看板头部）
// 失败时与报警控件相同：静默降级为零值
type StatsWidget struct {
	fetcher StatsFetcher
	poller  *poller.Poller
	logger  *zap.Logger

	mu    sync.Mutex
	stats models.Stats
}

// NewStatsWidget 创建统计控件
func NewStatsWidget(fetcher StatsFetcher, interval time.Duration, logger *zap.Logger) *StatsWidget {
	return &StatsWidget{
		fetcher: fetcher,
		poller:  poller.New("stats", interval, logger),
		logger:  logger,
	}
}

// Start 启动轮询
func (w *StatsWidget) Start(ctx context.Context) error {
	return w.poller.Start(ctx, w.refresh)
}

// Stop 停止轮询
func (w *StatsWidget) Stop() {
	w.poller.Stop()
}

// Stats 当前系统统计
func (w *StatsWidget) Stats() models.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *StatsWidget) refresh(ctx context.Context) {
	stats, err := w.fetcher.GetStats(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.stats = models.Stats{}
		w.logger.Debug("Stats fetch failed, degrading to zero", zap.Error(err))
		return
	}
	w.stats = *stats
}
