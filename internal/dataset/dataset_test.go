package dataset

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"review-insights-go/internal/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadCSVSkipsHeaderAndBlankRows(t *testing.T) {
	path := writeFile(t, "input.csv", "\ufeffreview,rating\n"+
		"\"세탁기 좋아요, 조용해요\",5\n"+
		",3\n"+
		"   \n"+
		"정수기 렌탈했어요\n")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []types.Review{"세탁기 좋아요, 조용해요", "정수기 렌탈했어요"}
	if len(got) != len(want) {
		t.Fatalf("Load = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("review %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadCSVEmptyFile(t *testing.T) {
	if _, err := Load(writeFile(t, "empty.csv", "")); err == nil {
		t.Fatal("expected error for empty csv")
	}
}

func TestLoadHeaderOnly(t *testing.T) {
	got, err := Load(writeFile(t, "header.csv", "reviews\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no reviews, got %q", got)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	if _, err := Load(writeFile(t, "input.json", "[]")); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestLoadXLSXUsesFirstSheetFirstColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"리뷰", "점수"},
		{"건조기 구독 중인데 만족", 5},
		{"", 1},
		{"냉장고 샀어요", 4},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0] != "건조기 구독 중인데 만족" || got[1] != "냉장고 샀어요" {
		t.Fatalf("unexpected reviews %q", got)
	}
}

func sampleRecords() []types.ResultRecord {
	start := time.Date(2024, 3, 9, 14, 5, 1, 0, time.Local)
	res := types.NewAnalysisResult([types.FieldCount]string{"이사", "세탁기", "렌탈", "긍정", "조용함, 빠름", types.NoneMarker, "만족"})
	res.StartTime, res.EndTime = start, start.Add(2*time.Second)
	return []types.ResultRecord{
		{Seq: 0, Review: "리뷰 \"하나\"", Result: res},
		{Seq: 1, Review: "리뷰 둘", Result: types.SentinelResult()},
	}
}

func TestWriteCSVHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRecords()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("re-read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "reviews,context,product_type,purchase_method,sentiment,pros,cons,summary,start_time,end_time" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	first := rows[1]
	if first[0] != "리뷰 \"하나\"" || first[3] != "렌탈" || first[5] != "조용함, 빠름" {
		t.Fatalf("unexpected row %v", first)
	}
	if first[8] != "2024-03-09 14:05:01" || first[9] != "2024-03-09 14:05:03" {
		t.Fatalf("timestamps not formatted: %v", first[8:])
	}
}

func TestWriteCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out", "output.csv")
	if err := Write(path, sampleRecords()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.HasPrefix(string(data), "reviews,context,") {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestWriteXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.xlsx")
	if err := Write(path, sampleRecords()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(resultSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "reviews" || rows[2][2] != types.NoneMarker {
		t.Fatalf("unexpected sheet contents %v", rows)
	}

	// results written as xlsx load back as reviews
	reviews, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reviews) != 2 || reviews[1] != "리뷰 둘" {
		t.Fatalf("unexpected reviews %q", reviews)
	}
}
