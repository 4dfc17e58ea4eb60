package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/treasury"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestGenerate(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assets := []model.CustodyAsset{{
		Symbol: "PETR4", Kind: model.AssetStock, Quantity: 100,
		AveragePrice: d(28), MarketPrice: d(28), GuaranteePercent: d(60), UsedAsGuarantee: true,
	}, {
		Symbol: "PETRA300_OPT", Kind: model.AssetOption, Quantity: 100,
		AveragePrice: d(0.5), MarketPrice: d(0.5),
	}}
	st := Statement{
		UserID:   "u1",
		Snapshot: treasury.Compute("u1", d(-755), assets, nil, now),
		Entries: []model.CashFlowEntry{
			{Seq: 1, Date: now, Type: model.EntryDeposit, Description: "initial", Amount: d(2000), Balance: d(2000)},
			{Seq: 2, Date: now, Type: model.EntryWithdrawal, Description: "Net buy 100 PETR4: cc", Amount: d(-2755), Balance: d(-755), RelatedStructureID: "s1"},
		},
		Custody:    assets,
		Structures: []model.Structure{{Name: "cc", Status: model.StatusActive, CreatedAt: now}},
	}

	data, err := Generate(st)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open generated workbook: %v", err)
	}
	defer f.Close()

	want := []string{SheetSummary, SheetCashFlow, SheetCustody, SheetStructures}
	got := f.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("expected sheets %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sheet %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if v, _ := f.GetCellValue(SheetSummary, "B3"); v != "-R$755,00" {
		t.Errorf("ledger balance cell: got %q", v)
	}
	if v, _ := f.GetCellValue(SheetCashFlow, "C3"); v != "WITHDRAWAL" {
		t.Errorf("entry type cell: got %q", v)
	}
	if v, _ := f.GetCellValue(SheetCashFlow, "G3"); v != "s1" {
		t.Errorf("related structure cell: got %q", v)
	}
	if v, _ := f.GetCellValue(SheetCustody, "A2"); v != "PETR4" {
		t.Errorf("custody symbol cell: got %q", v)
	}
	if v, _ := f.GetCellValue(SheetCustody, "B2"); v != "PETR4" {
		t.Errorf("stock ticker cell: got %q", v)
	}
	if v, _ := f.GetCellValue(SheetCustody, "B3"); v != "PETRA300" {
		t.Errorf("option ticker cell: got %q", v)
	}
	if v, _ := f.GetCellValue(SheetStructures, "B2"); v != "ACTIVE" {
		t.Errorf("structure status cell: got %q", v)
	}
}

func TestGenerate_RequiresSnapshot(t *testing.T) {
	if _, err := Generate(Statement{UserID: "u1"}); err == nil {
		t.Error("expected an error without a snapshot")
	}
}
