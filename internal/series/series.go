package series

import (
	"fmt"
	"math"
	"time"

	"rpm-dashboard/internal/models"
)

// 临床正常心率带（bpm），Y 轴范围始终覆盖该区间
const (
	normalBandLow  = 50.0
	normalBandHigh = 100.0
)

// Point 图表上的一个数据点
type Point struct {
	DisplayTime string    // 展示用时间（HH:MM:SS，UTC）
	HeartRate   float64   // 心率（bpm）
	Timestamp   time.Time // 原始读数时间
}

// TimeSeries 单个患者的心率时序（时间升序）
// 由一次历史拉取播种、推送事件逐条追加；只追加，不排序、不去重。
// 非线程安全：由持有它的 Session 串行化访问。
type TimeSeries struct {
	patientID  string
	points     []Point
	seeded     bool
	outOfOrder int
}

// New 创建空时序
func New(patientID string) *TimeSeries {
	return &TimeSeries{patientID: patientID}
}

// PatientID 所属患者
func (s *TimeSeries) PatientID() string {
	return s.patientID
}

// SeedHistory 用历史拉取结果播种时序
// 后端按时间倒序返回，此处反转为升序；播种前已追加的实时点保持在历史块之后
func (s *TimeSeries) SeedHistory(records []models.VitalRecord) error {
	if s.seeded {
		return fmt.Errorf("series for %s already seeded", s.patientID)
	}

	historical := make([]Point, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		p, err := toPoint(records[i])
		if err != nil {
			return fmt.Errorf("invalid history record: %w", err)
		}
		historical = append(historical, p)
	}

	s.points = append(historical, s.points...)
	s.seeded = true
	return nil
}

// Append 追加一条推送记录
// 信任通道的投递顺序：乱序事件照常追加，仅计数供观测。
// 返回该点相对上一点是否时间有序。
func (s *TimeSeries) Append(record models.VitalRecord) (bool, error) {
	p, err := toPoint(record)
	if err != nil {
		return false, err
	}

	inOrder := true
	if n := len(s.points); n > 0 && p.Timestamp.Before(s.points[n-1].Timestamp) {
		inOrder = false
		s.outOfOrder++
	}

	s.points = append(s.points, p)
	return inOrder, nil
}

// Points 当前所有数据点（拷贝）
func (s *TimeSeries) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Len 数据点数量
func (s *TimeSeries) Len() int {
	return len(s.points)
}

// Last 最后一个数据点
func (s *TimeSeries) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// OutOfOrderCount 观测到的乱序追加次数
func (s *TimeSeries) OutOfOrderCount() int {
	return s.outOfOrder
}

// AxisRange 计算 Y 轴可见范围
// 下界 = floor(min(观测最小值, 50)/10)*10 - 10（不小于0）
// 上界 = ceil(max(观测最大值, 100)/10)*10 + 10
// 保证临床正常带（50~100 bpm）始终可见，按 10 取整避免单点抖动
func (s *TimeSeries) AxisRange() (lower, upper float64) {
	observedMin := normalBandLow
	observedMax := normalBandHigh
	for _, p := range s.points {
		if p.HeartRate < observedMin {
			observedMin = p.HeartRate
		}
		if p.HeartRate > observedMax {
			observedMax = p.HeartRate
		}
	}

	lower = math.Floor(observedMin/10)*10 - 10
	if lower < 0 {
		lower = 0
	}
	upper = math.Ceil(observedMax/10)*10 + 10
	return lower, upper
}

// toPoint 将一条生命体征记录转换为图表数据点
func toPoint(record models.VitalRecord) (Point, error) {
	ts, err := record.ReadingTime()
	if err != nil {
		return Point{}, err
	}
	return Point{
		DisplayTime: ts.Format("15:04:05"),
		HeartRate:   record.Vitals.HeartRate,
		Timestamp:   ts,
	}, nil
}
