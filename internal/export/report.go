package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"rpm-dashboard/internal/models"
	"rpm-dashboard/internal/series"
)

// VitalsReportHeader 生命体征表头
var VitalsReportHeader = []string{
	"Reading Time (UTC)",
	"Display Time",
	"Heart Rate (bpm)",
}

// SummariesReportHeader 分诊总结表头
var SummariesReportHeader = []string{
	"Created At",
	"Triage Level",
	"Risk Score",
	"Summary",
	"Recommendation",
}

// Report 单个患者的报表输入（当前看板快照）
type Report struct {
	PatientID   string
	GeneratedAt time.Time
	Points      []series.Point
	Summaries   []models.Summary
}

// WriteVitalsReport 生成患者生命体征 Excel 报表
// Sheet 1: 心率时序（按看板展示顺序）；Sheet 2: LLM 分诊总结
func WriteVitalsReport(report Report) ([]byte, error) {
	f := excelize.NewFile()
	// 注意：这里不 defer Close()，WriteTo 需要文件保持打开

	vitalsSheet := "Vitals"
	index, err := f.NewSheet(vitalsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 报表元信息
	f.SetCellValue(vitalsSheet, "A1", "Patient ID")
	f.SetCellValue(vitalsSheet, "B1", report.PatientID)
	f.SetCellValue(vitalsSheet, "A2", "Generated At")
	f.SetCellValue(vitalsSheet, "B2", report.GeneratedAt.UTC().Format(time.RFC3339))

	// 表头
	headerRow := 4
	for i, header := range VitalsReportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRow)
		if err != nil {
			f.Close()
			return nil, err
		}
		f.SetCellValue(vitalsSheet, cell, header)
		f.SetCellStyle(vitalsSheet, cell, cell, headerStyle)
	}

	// 数据行
	for i, p := range report.Points {
		row := headerRow + 1 + i
		f.SetCellValue(vitalsSheet, fmt.Sprintf("A%d", row), p.Timestamp.UTC().Format(time.RFC3339))
		f.SetCellValue(vitalsSheet, fmt.Sprintf("B%d", row), p.DisplayTime)
		f.SetCellValue(vitalsSheet, fmt.Sprintf("C%d", row), p.HeartRate)
	}

	if err := writeSummariesSheet(f, headerStyle, report.Summaries); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	f.Close()

	return buf.Bytes(), nil
}

// writeSummariesSheet 写入分诊总结 Sheet
func writeSummariesSheet(f *excelize.File, headerStyle int, summaries []models.Summary) error {
	sheet := "Triage Summaries"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create summaries sheet: %w", err)
	}

	for i, header := range SummariesReportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		f.SetCellValue(sheet, cell, header)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i, s := range summaries {
		row := 2 + i
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), s.CreatedAt)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), s.TriageLevel)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), s.RiskScore)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), s.SummaryText)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), s.Recommendation)
	}

	return nil
}
