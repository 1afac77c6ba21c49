package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"rpm-dashboard/internal/api"
	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/series"
	"rpm-dashboard/internal/stream"
)

// State 会话视图状态
type State string

const (
	StateIdle    State = "Idle"    // 未启动 / 已卸载
	StateLoading State = "Loading" // 历史拉取进行中
	StateReady   State = "Ready"   // 历史就绪，实时追加中
	StateErrored State = "Errored" // 历史拉取失败（本次挂载内不自动重试）
)

// HistoryFetcher 历史生命体征拉取接口（*api.Client 实现）
type HistoryFetcher interface {
	GetVitals(ctx context.Context, patientID string, hours, limit int) (*api.VitalsPage, error)
}

// Session 单个患者的看板会话
// 独占持有自己的时序和推送订阅句柄；历史拉取一次播种，推送事件逐条追加。
// 状态机: Idle → Loading → Ready | Errored；Ready 上每个推送事件自转移；
// Close（卸载/换患者）从任意状态回到 Idle 并恰好释放一次订阅。
type Session struct {
	patientID    string
	windowHours  int
	historyLimit int
	fetcher      HistoryFetcher
	source       stream.Source
	logger       *zap.Logger

	mu      sync.Mutex
	state   State
	errMsg  string
	series  *series.TimeSeries
	sub     *stream.Subscription
	started bool
	closed  bool

	closeOnce sync.Once
}

// Snapshot 渲染用的会话快照
type Snapshot struct {
	PatientID  string
	State      State
	Error      string
	Points     []series.Point
	AxisLower  float64
	AxisUpper  float64
	OutOfOrder int
}

// NewSession 创建患者会话
func NewSession(patientID string, fetcher HistoryFetcher, source stream.Source, windowHours, historyLimit int, logger *zap.Logger) *Session {
	return &Session{
		patientID:    patientID,
		windowHours:  windowHours,
		historyLimit: historyLimit,
		fetcher:      fetcher,
		source:       source,
		logger:       logger,
		state:        StateIdle,
		series:       series.New(patientID),
	}
}

// Start 挂载会话：先发起历史拉取，再打开推送订阅
// 代码顺序保证拉取先于订阅发起；完成顺序不保证——历史未就绪时到达的
// 推送事件直接追加，历史就绪后播种在这些实时点之前。
// 重复 Start 是编程错误。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session for %s already started", s.patientID)
	}
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session for %s already closed", s.patientID)
	}
	s.started = true
	s.state = StateLoading
	s.mu.Unlock()

	// 1. 发起历史拉取（异步完成）
	go func() {
		page, err := s.fetcher.GetVitals(ctx, s.patientID, s.windowHours, s.historyLimit)
		s.onHistory(page, err)
	}()

	// 2. 打开推送订阅（每次挂载恰好一个）
	sub, err := s.source.Subscribe(ctx, s.patientID, s.onUpdate)
	if err != nil {
		// 订阅失败不终止会话：历史数据仍可展示，仅失去实时更新
		s.logger.Error("Failed to open push subscription",
			zap.String("patient_id", s.patientID),
			zap.Error(err),
		)
		return nil
	}

	s.mu.Lock()
	if s.closed {
		// Start 与 Close 竞争：会话已卸载，立即释放刚建立的订阅
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("Session started",
		zap.String("patient_id", s.patientID),
		zap.String("subscription_id", sub.ID),
	)
	return nil
}

// onHistory 历史拉取完成回调
func (s *Session) onHistory(page *api.VitalsPage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if err != nil {
		// 历史失败对本次挂载是终态：不自动重拉，重新挂载才会再次尝试
		s.state = StateErrored
		s.errMsg = historyErrorMessage(err)
		s.logger.Error("History fetch failed",
			zap.String("patient_id", s.patientID),
			zap.Error(err),
		)
		return
	}

	if err := s.series.SeedHistory(page.Records); err != nil {
		s.state = StateErrored
		s.errMsg = fmt.Sprintf("无法解析历史数据: %v", err)
		s.logger.Error("History seed failed",
			zap.String("patient_id", s.patientID),
			zap.Error(err),
		)
		return
	}

	s.state = StateReady
	s.errMsg = ""
	s.logger.Info("History loaded",
		zap.String("patient_id", s.patientID),
		zap.Int("records", len(page.Records)),
	)
}

// onUpdate 推送事件回调：向时序末尾追加一个点
// 不校验时间单调性（信任通道投递顺序）；乱序仅记录，不崩溃、不重排
func (s *Session) onUpdate(record models.VitalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// 卸载后到达的迟到事件：丢弃，保证关闭后零状态更新
		return
	}

	inOrder, err := s.series.Append(record)
	if err != nil {
		s.logger.Warn("Dropped malformed push record",
			zap.String("patient_id", s.patientID),
			zap.Error(err),
		)
		return
	}
	if !inOrder {
		s.logger.Warn("Out-of-order push record appended",
			zap.String("patient_id", s.patientID),
			zap.String("reading_timestamp", record.ReadingTimestamp),
			zap.Int("out_of_order_total", s.series.OutOfOrderCount()),
		)
	}
}

// Close 卸载会话：恰好释放一次订阅，此后零状态更新（幂等）
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.state = StateIdle
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()

		if sub != nil {
			if err := sub.Close(); err != nil {
				s.logger.Error("Failed to close subscription",
					zap.String("patient_id", s.patientID),
					zap.Error(err),
				)
			}
		}

		s.logger.Info("Session closed", zap.String("patient_id", s.patientID))
	})
}

// PatientID 所属患者
func (s *Session) PatientID() string {
	return s.patientID
}

// Snapshot 当前会话快照（供渲染和导出）
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower, upper := s.series.AxisRange()
	return Snapshot{
		PatientID:  s.patientID,
		State:      s.state,
		Error:      s.errMsg,
		Points:     s.series.Points(),
		AxisLower:  lower,
		AxisUpper:  upper,
		OutOfOrder: s.series.OutOfOrderCount(),
	}
}

// historyErrorMessage 历史拉取错误的展示文案（区分后端错误与传输失败）
func historyErrorMessage(err error) string {
	var backendErr *api.BackendError
	if errors.As(err, &backendErr) {
		return fmt.Sprintf("后端错误: %s", backendErr.Code)
	}
	return fmt.Sprintf("无法获取历史数据: %v", err)
}
