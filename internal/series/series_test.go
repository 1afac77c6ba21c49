package series_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/series"
)

func record(t time.Time, hr float64) models.VitalRecord {
	return models.VitalRecord{
		PatientID:        "patient-1",
		Vitals:           models.Vitals{HeartRate: hr, SpO2: 97, Temperature: 36.8},
		StateClassified:  models.StateNormal,
		ReadingTimestamp: t.UTC().Format(time.RFC3339),
	}
}

func TestSeedHistory_ReversesNewestFirst(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	// 后端倒序：t3, t2, t1
	history := []models.VitalRecord{
		record(base.Add(3*time.Minute), 80),
		record(base.Add(2*time.Minute), 78),
		record(base.Add(1*time.Minute), 76),
	}

	s := series.New("patient-1")
	require.NoError(t, s.SeedHistory(history))

	points := s.Points()
	require.Len(t, points, 3)
	assert.Equal(t, 76.0, points[0].HeartRate)
	assert.Equal(t, 78.0, points[1].HeartRate)
	assert.Equal(t, 80.0, points[2].HeartRate)

	// 严格升序
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i].Timestamp.After(points[i-1].Timestamp))
	}
}

func TestSeedHistory_Twice(t *testing.T) {
	s := series.New("patient-1")
	require.NoError(t, s.SeedHistory(nil))
	assert.Error(t, s.SeedHistory(nil))
}

func TestAppend_DeliveryOrderPreserved(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	s := series.New("patient-1")
	require.NoError(t, s.SeedHistory([]models.VitalRecord{
		record(base.Add(3*time.Minute), 80),
		record(base.Add(2*time.Minute), 78),
		record(base.Add(1*time.Minute), 76),
	}))

	inOrder, err := s.Append(record(base.Add(4*time.Minute), 120))
	require.NoError(t, err)
	assert.True(t, inOrder)

	points := s.Points()
	require.Len(t, points, 4)
	assert.Equal(t, []float64{76, 78, 80, 120}, heartRates(points))
}

func TestAppend_OutOfOrderIsKeptAndCounted(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	s := series.New("patient-1")
	require.NoError(t, s.SeedHistory(nil))

	_, err := s.Append(record(base.Add(2*time.Minute), 80))
	require.NoError(t, err)

	// 乱序事件：不拒绝、不重排、不去重，只计数
	inOrder, err := s.Append(record(base.Add(1*time.Minute), 78))
	require.NoError(t, err)
	assert.False(t, inOrder)

	// 时间戳重复不算乱序（Before 为 false）
	inOrder, err = s.Append(record(base.Add(1*time.Minute), 78))
	require.NoError(t, err)
	assert.True(t, inOrder)

	assert.Equal(t, []float64{80, 78, 78}, heartRates(s.Points()))
	assert.Equal(t, 1, s.OutOfOrderCount())
}

func TestAppend_BeforeSeedKeptAfterHistoryBlock(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	s := series.New("patient-1")

	// 历史未就绪时先到达的推送事件
	_, err := s.Append(record(base.Add(5*time.Minute), 90))
	require.NoError(t, err)

	require.NoError(t, s.SeedHistory([]models.VitalRecord{
		record(base.Add(2*time.Minute), 78),
		record(base.Add(1*time.Minute), 76),
	}))

	// 历史块在前，已追加的实时点在后
	assert.Equal(t, []float64{76, 78, 90}, heartRates(s.Points()))
}

func TestAppend_InvalidTimestamp(t *testing.T) {
	s := series.New("patient-1")
	_, err := s.Append(models.VitalRecord{ReadingTimestamp: "not-a-time"})
	assert.Error(t, err)
}

func TestAxisRange_EmptySeriesCoversNormalBand(t *testing.T) {
	s := series.New("patient-1")
	lower, upper := s.AxisRange()
	assert.Equal(t, 40.0, lower)
	assert.Equal(t, 110.0, upper)
}

func TestAxisRange_Properties(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		heartRates []float64
		lower      float64
		upper      float64
	}{
		{"all normal", []float64{76, 78, 80}, 40, 110},
		{"high outlier", []float64{76, 78, 80, 120}, 40, 130},
		{"low bradycardia", []float64{38, 42}, 20, 110},
		{"extreme low clamps at zero", []float64{4}, 0, 110},
		{"non multiple of ten", []float64{47, 113}, 30, 130},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := series.New("patient-1")
			require.NoError(t, s.SeedHistory(nil))
			for i, hr := range tc.heartRates {
				_, err := s.Append(record(base.Add(time.Duration(i)*time.Minute), hr))
				require.NoError(t, err)
			}

			lower, upper := s.AxisRange()
			assert.Equal(t, tc.lower, lower)
			assert.Equal(t, tc.upper, upper)

			// 不变式：正常带始终可见，下界非负，边界为 10 的倍数
			assert.LessOrEqual(t, lower, 50.0)
			assert.GreaterOrEqual(t, upper, 100.0)
			assert.GreaterOrEqual(t, lower, 0.0)
			assert.Zero(t, int(lower)%10)
			assert.Zero(t, int(upper)%10)
		})
	}
}

func TestPoints_ReturnsCopy(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	s := series.New("patient-1")
	require.NoError(t, s.SeedHistory(nil))
	_, err := s.Append(record(base, 80))
	require.NoError(t, err)

	points := s.Points()
	points[0].HeartRate = 999

	assert.Equal(t, 80.0, s.Points()[0].HeartRate)
}

func TestDisplayTime_Format(t *testing.T) {
	s := series.New("patient-1")
	require.NoError(t, s.SeedHistory(nil))

	ts := time.Date(2026, 8, 28, 9, 5, 30, 0, time.UTC)
	_, err := s.Append(record(ts, 80))
	require.NoError(t, err)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "09:05:30", last.DisplayTime)
}

func heartRates(points []series.Point) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		out = append(out, p.HeartRate)
	}
	return out
}
