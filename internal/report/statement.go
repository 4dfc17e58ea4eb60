// Package report renders a user's treasury statement as an XLSX workbook.
package report

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/symbol"
	"github.com/atmx/treasury-engine/internal/treasury"
)

// Sheet names, in workbook order.
const (
	SheetSummary    = "Summary"
	SheetCashFlow   = "Cash flow"
	SheetCustody    = "Custody"
	SheetStructures = "Structures"
)

// Statement is everything the workbook shows.
type Statement struct {
	UserID     string
	Currency   string
	Snapshot   *treasury.Snapshot
	Entries    []model.CashFlowEntry
	Custody    []model.CustodyAsset
	Structures []model.Structure
}

// Generate builds the workbook and returns its bytes.
func Generate(st Statement) ([]byte, error) {
	if st.Snapshot == nil {
		return nil, errors.New("report: statement has no snapshot")
	}
	if st.Currency == "" {
		st.Currency = model.DefaultCurrency
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("closing workbook", "user", st.UserID, "err", err)
		}
	}()

	header, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#cfe2f3"}},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	if err := writeSummary(f, st); err != nil {
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeCashFlow(f, st.Entries, header); err != nil {
		return nil, fmt.Errorf("cash flow sheet: %w", err)
	}
	if err := writeCustody(f, st.Custody, header); err != nil {
		return nil, fmt.Errorf("custody sheet: %w", err)
	}
	if err := writeStructures(f, st.Structures, header); err != nil {
		return nil, fmt.Errorf("structures sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	slog.Debug("statement generated", "user", st.UserID, "entries", len(st.Entries), "bytes", buf.Len())
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, st Statement) error {
	s := st.Snapshot
	rows := [][]interface{}{
		{"User", st.UserID},
		{"Computed at", s.ComputedAt.Format("2006-01-02 15:04:05")},
		{"Ledger balance", model.FormatMoney(s.LedgerBalance, st.Currency)},
		{"Free cash", model.FormatMoney(s.FreeCash, st.Currency)},
		{"Custody value", model.FormatMoney(s.CustodyValue, st.Currency)},
		{"Custody guarantee", model.FormatMoney(s.CustodyGuarantee, st.Currency)},
		{"Guarantee total", model.FormatMoney(s.GuaranteeTotal, st.Currency)},
		{"Guarantee used", model.FormatMoney(s.GuaranteeUsed, st.Currency)},
		{"Guarantee available", model.FormatMoney(s.GuaranteeAvailable, st.Currency)},
		{"Active structures", s.ActiveStructures},
	}
	for i, row := range rows {
		if err := f.SetSheetRow(SheetSummary, cell("A", i+1), &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetSummary, "A", "B", 22)
}

func writeCashFlow(f *excelize.File, entries []model.CashFlowEntry, header int) error {
	if err := newSheet(f, SheetCashFlow, header,
		"Seq", "Date", "Type", "Description", "Amount", "Balance", "Structure"); err != nil {
		return err
	}
	for i, e := range entries {
		row := []interface{}{
			e.Seq, e.Date.Format("2006-01-02"), string(e.Type), e.Description,
			num(e.Amount), num(e.Balance), e.RelatedStructureID,
		}
		if err := f.SetSheetRow(SheetCashFlow, cell("A", i+2), &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetCashFlow, "D", "D", 40)
}

func writeCustody(f *excelize.File, assets []model.CustodyAsset, header int) error {
	if err := newSheet(f, SheetCustody, header,
		"Symbol", "Ticker", "Kind", "Quantity", "Average price", "Market price", "Market value", "Guarantee %", "Guarantee"); err != nil {
		return err
	}
	for i, a := range assets {
		ticker := a.Symbol
		if k, err := symbol.Parse(a.Symbol); err == nil {
			ticker = k.Ticker
		}
		row := []interface{}{
			a.Symbol, ticker, string(a.Kind), a.Quantity,
			num(a.AveragePrice), num(a.MarketPrice), num(a.MarketValue()),
			num(a.GuaranteePercent), a.UsedAsGuarantee,
		}
		if err := f.SetSheetRow(SheetCustody, cell("A", i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

func writeStructures(f *excelize.File, structures []model.Structure, header int) error {
	if err := newSheet(f, SheetStructures, header,
		"Name", "Status", "Legs", "Net premium", "Assembly cost", "Created", "Activated"); err != nil {
		return err
	}
	for i, s := range structures {
		activated := ""
		if s.ActivatedAt != nil {
			activated = s.ActivatedAt.Format("2006-01-02")
		}
		row := []interface{}{
			s.Name, string(s.Status), len(s.Legs),
			num(s.NetPremium), num(s.AssemblyCost),
			s.CreatedAt.Format("2006-01-02"), activated,
		}
		if err := f.SetSheetRow(SheetStructures, cell("A", i+2), &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetStructures, "A", "A", 30)
}

func newSheet(f *excelize.File, name string, header int, titles ...string) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	row := make([]interface{}, len(titles))
	for i, t := range titles {
		row[i] = t
	}
	if err := f.SetSheetRow(name, "A1", &row); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(titles), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(name, "A1", last, header)
}

func cell(col string, row int) string { return fmt.Sprintf("%s%d", col, row) }

// num converts for display only; the ledger itself never leaves decimal.
func num(d decimal.Decimal) float64 { return d.InexactFloat64() }
