package validation

import (
	"testing"
	"time"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func strPtr(s string) *string { return &s }

func stPtr(s Status) *Status { return &s }

func baselineRows() []Row {
	return []Row{
		{SiteName: "SITE-A", Date: d("2025-10-05"), Status: StatusPending},
		{SiteName: "SITE-B", Date: d("2025-10-05"), Status: StatusPending},
		{SiteName: "SITE-A", Date: d("2025-10-12"), Status: StatusPending},
	}
}

func TestMergeAppliesDecisionAndStamps(t *testing.T) {
	now := time.Date(2025, 10, 6, 14, 0, 0, 0, time.UTC)
	edits := map[Key]Decision{
		{Site: "SITE-A", Date: "2025-10-05"}: {
			Status:     stPtr(StatusApproved),
			Observacao: strPtr("ok"),
			Validador:  strPtr("maria"),
		},
	}
	out := Merge(baselineRows(), edits, now)

	if out[0].Status != StatusApproved || out[0].Observacao != "ok" || out[0].Validador != "maria" {
		t.Errorf("edited row = %+v", out[0])
	}
	if out[0].DataValidacao != "2025-10-06 14:00:00" {
		t.Errorf("stamp = %q", out[0].DataValidacao)
	}
	// rows without a decision are untouched
	if out[1].Status != StatusPending || out[1].DataValidacao != "" {
		t.Errorf("untouched row changed: %+v", out[1])
	}
}

func TestMergeNeverRestamps(t *testing.T) {
	base := baselineRows()
	first := time.Date(2025, 10, 6, 14, 0, 0, 0, time.UTC)
	edits := map[Key]Decision{
		{Site: "SITE-A", Date: "2025-10-05"}: {Status: stPtr(StatusApproved)},
	}
	once := Merge(base, edits, first)

	// re-saving the same decision later must not move the timestamp
	later := first.Add(48 * time.Hour)
	twice := Merge(once, edits, later)
	if twice[0].DataValidacao != "2025-10-06 14:00:00" {
		t.Errorf("stamp overwritten: %q", twice[0].DataValidacao)
	}
	if twice[0].Status != StatusApproved {
		t.Errorf("status = %q", twice[0].Status)
	}
}

func TestMergeNilFieldsLeaveValues(t *testing.T) {
	base := baselineRows()
	base[0].Observacao = "anotação antiga"
	edits := map[Key]Decision{
		{Site: "SITE-A", Date: "2025-10-05"}: {Status: stPtr(StatusRejected)},
	}
	out := Merge(base, edits, time.Now())
	if out[0].Observacao != "anotação antiga" {
		t.Errorf("observacao clobbered: %q", out[0].Observacao)
	}
}

func TestBatchDecideSharedStamp(t *testing.T) {
	rows := baselineRows()
	rows = append(rows, Row{
		SiteName:      "SITE-C",
		Date:          d("2025-10-05"),
		Status:        StatusRejected,
		DataValidacao: "2025-10-01 09:00:00",
	})
	now := time.Date(2025, 10, 6, 15, 30, 0, 0, time.UTC)

	out := BatchDecide(rows, d("2025-10-05"), []string{"SITE-A", "SITE-B", "SITE-C"}, StatusApproved, nil, "joao", now)

	for _, i := range []int{0, 1} {
		if out[i].Status != StatusApproved || out[i].Validador != "joao" {
			t.Errorf("row %d = %+v", i, out[i])
		}
		if out[i].DataValidacao != "2025-10-06 15:30:00" {
			t.Errorf("row %d stamp = %q", i, out[i].DataValidacao)
		}
	}
	// different date stays pending
	if out[2].Status != StatusPending || out[2].DataValidacao != "" {
		t.Errorf("other-day row changed: %+v", out[2])
	}
	// previously decided row keeps its original stamp
	if out[3].DataValidacao != "2025-10-01 09:00:00" {
		t.Errorf("pre-stamped row restamped: %q", out[3].DataValidacao)
	}
	if out[3].Status != StatusApproved {
		t.Errorf("pre-stamped row status = %q", out[3].Status)
	}
}

func TestBatchDecideSiteFilter(t *testing.T) {
	obs := "nuvens na passagem"
	out := BatchDecide(baselineRows(), d("2025-10-05"), []string{"SITE-A"}, StatusRejected, &obs, "joao", time.Now())
	if out[0].Status != StatusRejected || out[0].Observacao != obs {
		t.Errorf("filtered site not updated: %+v", out[0])
	}
	if out[1].Status != StatusPending || out[1].Observacao != "" {
		t.Errorf("site outside filter updated: %+v", out[1])
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" aprovada "); err != nil || s != StatusApproved {
		t.Errorf("got %v %v", s, err)
	}
	if _, err := ParseStatus("cancelada"); err == nil {
		t.Error("expected error")
	}
}

func TestSortRows(t *testing.T) {
	rows := []Row{
		{SiteName: "SITE-B", Date: d("2025-10-05")},
		{SiteName: "SITE-A", Date: d("2025-10-12")},
		{SiteName: "SITE-A", Date: d("2025-10-05")},
	}
	SortRows(rows)
	if rows[0].SiteName != "SITE-A" || rows[1].SiteName != "SITE-B" || rows[2].Date.Day() != 12 {
		t.Errorf("order = %+v", rows)
	}
}
