package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/imprest/internal/imprest/repository"
	"github.com/xuri/excelize/v2"
)

// ExportService 备用金台账导出
type ExportService struct {
	repo *repository.RequestRepository
}

func NewExportService(repo *repository.RequestRepository) *ExportService {
	return &ExportService{repo: repo}
}

var registerExportHeaders = []string{
	"单号", "申请人", "部门", "申请金额", "币种", "用途类型", "事由",
	"状态", "放款金额", "核销截止", "核销总额", "余额", "创建时间",
}

// ExportRegister 导出申请单台账为xlsx
func (s *ExportService) ExportRegister(ctx context.Context, filters map[string]string) (*excelize.File, string, error) {
	// 导出不分页，一次取全量
	requests, _, err := s.repo.FindAll(ctx, 1, 10000, filters)
	if err != nil {
		return nil, "", fmt.Errorf("list imprest requests: %w", err)
	}

	f := excelize.NewFile()
	sheet := "Imprest"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	// 写入表头
	for i, h := range registerExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	// 写入数据行
	for rowIdx, r := range requests {
		row := rowIdx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), r.Code)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), r.EmployeeName)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), r.Department)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), r.Amount)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), r.Currency)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), r.PaymentType)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), r.PaymentReason)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), string(r.Status))
		if r.Disbursement != nil {
			f.SetCellValue(sheet, fmt.Sprintf("I%d", row), r.Disbursement.Amount)
		}
		if r.DueDate != nil {
			f.SetCellValue(sheet, fmt.Sprintf("J%d", row), r.DueDate.Format("2006-01-02 15:04"))
		}
		if r.Accounting != nil {
			f.SetCellValue(sheet, fmt.Sprintf("K%d", row), r.Accounting.TotalAmount)
			f.SetCellValue(sheet, fmt.Sprintf("L%d", row), r.Accounting.Balance)
		}
		f.SetCellValue(sheet, fmt.Sprintf("M%d", row), r.CreatedAt.Format("2006-01-02 15:04"))
	}

	// 底部汇总行
	summaryRow := len(requests) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	var totalRequested, totalAccounted float64
	for _, r := range requests {
		totalRequested += r.Amount
		if r.Accounting != nil {
			totalAccounted += r.Accounting.TotalAmount
		}
	}
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "汇总")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", summaryRow), fmt.Sprintf("共%d单", len(requests)))
	f.SetCellValue(sheet, fmt.Sprintf("D%d", summaryRow), totalRequested)
	f.SetCellValue(sheet, fmt.Sprintf("K%d", summaryRow), totalAccounted)
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("M%d", summaryRow), summaryStyle)

	// 列宽
	f.SetColWidth(sheet, "A", "A", 16)
	f.SetColWidth(sheet, "B", "C", 14)
	f.SetColWidth(sheet, "G", "G", 30)
	f.SetColWidth(sheet, "J", "J", 18)
	f.SetColWidth(sheet, "M", "M", 18)

	filename := fmt.Sprintf("imprest_register_%s.xlsx", time.Now().Format("20060102_150405"))
	return f, filename, nil
}
