package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"rpm-dashboard/internal/api"
	"rpm-dashboard/internal/config"
	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/monitor"
	"rpm-dashboard/internal/stream"
)

// fakeBackend 四端点桩
type fakeBackend struct{}

func (f *fakeBackend) GetVitals(ctx context.Context, patientID string, hours, limit int) (*api.VitalsPage, error) {
	return &api.VitalsPage{
		PatientID: patientID,
		Count:     2,
		Records: []models.VitalRecord{
			{PatientID: patientID, Vitals: models.Vitals{HeartRate: 80}, StateClassified: models.StateNormal, ReadingTimestamp: "2026-08-28T10:02:00Z"},
			{PatientID: patientID, Vitals: models.Vitals{HeartRate: 76}, StateClassified: models.StateNormal, ReadingTimestamp: "2026-08-28T10:01:00Z"},
		},
	}, nil
}

func (f *fakeBackend) GetAlerts(ctx context.Context, patientID string, limit int) (*api.AlertsPage, error) {
	return &api.AlertsPage{PatientID: patientID, AlertType: "Critical", Count: 2}, nil
}

func (f *fakeBackend) GetSummaries(ctx context.Context, patientID string, limit int) (*api.SummariesPage, error) {
	return &api.SummariesPage{PatientID: patientID, Count: 1, Summaries: []models.Summary{
		{PatientID: patientID, SummaryText: "Triage Level: Urgent", TriageLevel: "Urgent", RiskScore: 0.7, CreatedAt: "2026-08-28T10:05:00Z"},
	}}, nil
}

func (f *fakeBackend) GetStats(ctx context.Context) (*models.Stats, error) {
	return &models.Stats{TotalRecords: 10, PatientCount: 2, ByState: map[string]int{models.StateCritical: 2}}, nil
}

// fakeSource 记录订阅与释放顺序的推送通道桩
type fakeSource struct {
	mu     sync.Mutex
	events []string // "attach:<id>" / "detach:<id>"
}

func (f *fakeSource) Subscribe(ctx context.Context, patientID string, fn stream.Handler) (*stream.Subscription, error) {
	f.mu.Lock()
	f.events = append(f.events, "attach:"+patientID)
	f.mu.Unlock()

	return stream.NewSubscription(patientID, func() error {
		f.mu.Lock()
		f.events = append(f.events, "detach:"+patientID)
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeSource) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Dashboard.Channel = config.ChannelMQTT
	cfg.Dashboard.WindowHours = 24
	cfg.Dashboard.HistoryLimit = 100
	cfg.Dashboard.AlertsLimit = 50
	cfg.Dashboard.SummariesLimit = 10
	cfg.Dashboard.AlertsInterval = 10 * time.Millisecond
	cfg.Dashboard.SummariesInterval = 10 * time.Millisecond
	cfg.Dashboard.StatsInterval = 10 * time.Millisecond
	cfg.Dashboard.RenderInterval = 10 * time.Millisecond
	return cfg
}

func TestDashboard_MountAndSnapshot(t *testing.T) {
	svc := newDashboardService(testConfig(), zap.NewNop(), &fakeBackend{}, &fakeSource{})
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Mount(context.Background(), "patient-1"))

	require.Eventually(t, func() bool {
		snap, err := svc.Snapshot("patient-1")
		return err == nil && snap.Session.State == monitor.StateReady
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		snap, _ := svc.Snapshot("patient-1")
		return snap.AlertCount == 2 && len(snap.Summaries) == 1
	}, time.Second, time.Millisecond)

	snap, err := svc.Snapshot("patient-1")
	require.NoError(t, err)
	require.Len(t, snap.Session.Points, 2)
	// 倒序历史反转为升序
	assert.Equal(t, 76.0, snap.Session.Points[0].HeartRate)
	assert.Equal(t, 80.0, snap.Session.Points[1].HeartRate)
}

func TestDashboard_MountTwiceIsError(t *testing.T) {
	svc := newDashboardService(testConfig(), zap.NewNop(), &fakeBackend{}, &fakeSource{})
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Mount(context.Background(), "patient-1"))
	assert.Error(t, svc.Mount(context.Background(), "patient-1"))
}

func TestDashboard_UnmountDetachesOnce(t *testing.T) {
	source := &fakeSource{}
	svc := newDashboardService(testConfig(), zap.NewNop(), &fakeBackend{}, source)
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Mount(context.Background(), "patient-1"))
	require.NoError(t, svc.Unmount("patient-1"))

	assert.Equal(t, []string{"attach:patient-1", "detach:patient-1"}, source.eventLog())
	assert.Error(t, svc.Unmount("patient-1"))

	_, err := svc.Snapshot("patient-1")
	assert.Error(t, err)
}

func TestDashboard_SwitchPatientDetachesBeforeAttach(t *testing.T) {
	source := &fakeSource{}
	svc := newDashboardService(testConfig(), zap.NewNop(), &fakeBackend{}, source)
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Mount(context.Background(), "patient-1"))
	require.NoError(t, svc.SwitchPatient(context.Background(), "patient-1", "patient-2"))

	// 旧订阅必须在新订阅建立之前释放，避免跨患者更新泄漏
	assert.Equal(t, []string{
		"attach:patient-1",
		"detach:patient-1",
		"attach:patient-2",
	}, source.eventLog())

	assert.Equal(t, []string{"patient-2"}, svc.MountedPatients())
}

func TestDashboard_StartMountsConfiguredPatients(t *testing.T) {
	cfg := testConfig()
	cfg.Dashboard.PatientIDs = []string{"patient-1", "patient-2"}

	source := &fakeSource{}
	svc := newDashboardService(cfg, zap.NewNop(), &fakeBackend{}, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(svc.MountedPatients()) == 2
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, svc.Stop(context.Background()))

	// 停止后每个患者恰好一次 detach
	events := source.eventLog()
	detaches := 0
	for _, e := range events {
		if e == "detach:patient-1" || e == "detach:patient-2" {
			detaches++
		}
	}
	assert.Equal(t, 2, detaches)
}

func TestDashboard_ExportReport(t *testing.T) {
	svc := newDashboardService(testConfig(), zap.NewNop(), &fakeBackend{}, &fakeSource{})
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Mount(context.Background(), "patient-1"))
	require.Eventually(t, func() bool {
		snap, err := svc.Snapshot("patient-1")
		return err == nil && snap.Session.State == monitor.StateReady && len(snap.Summaries) == 1
	}, time.Second, time.Millisecond)

	data, err := svc.ExportReport("patient-1")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Vitals", "B1")
	require.NoError(t, err)
	assert.Equal(t, "patient-1", v)

	_, err = svc.ExportReport("patient-x")
	assert.Error(t, err)
}
