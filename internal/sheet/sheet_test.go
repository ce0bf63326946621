package sheet

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders []string
		wantRows    int
		firstCells  []string
	}{
		{
			name:        "comma",
			input:       "Station,Line,Owner\nST100,L1,Ana\nST200,L2,Bob\n",
			wantHeaders: []string{"Station", "Line", "Owner"},
			wantRows:    2,
			firstCells:  []string{"ST100", "L1", "Ana"},
		},
		{
			name:        "semicolon with BOM",
			input:       "\xEF\xBB\xBFStation;Line\r\nST100;L1\r\n",
			wantHeaders: []string{"Station", "Line"},
			wantRows:    1,
			firstCells:  []string{"ST100", "L1"},
		},
		{
			name:        "tab",
			input:       "Robot\tStation\nRB01\tST100\n",
			wantHeaders: []string{"Robot", "Station"},
			wantRows:    1,
			firstCells:  []string{"RB01", "ST100"},
		},
		{
			name:        "title row and blank lines skipped",
			input:       "Status report\n\nStation,Owner\nST100,Ana\n,\nST200,Bob\n",
			wantHeaders: []string{"Station", "Owner"},
			wantRows:    2,
			firstCells:  []string{"ST100", "Ana"},
		},
		{
			name:        "windows-1252",
			input:       "Station,Besitzer\nST100,J\xfcrgen\n",
			wantHeaders: []string{"Station", "Besitzer"},
			wantRows:    1,
			firstCells:  []string{"ST100", "Jürgen"},
		},
		{
			name:        "quoted delimiter does not confuse sniffing",
			input:       "\"Station; Cell\",Owner\nST100,Ana\n",
			wantHeaders: []string{"Station; Cell", "Owner"},
			wantRows:    1,
			firstCells:  []string{"ST100", "Ana"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ReadCSV(strings.NewReader(tt.input), "status", Options{})
			if err != nil {
				t.Fatalf("ReadCSV: %v", err)
			}
			if strings.Join(s.Headers, "|") != strings.Join(tt.wantHeaders, "|") {
				t.Errorf("Headers = %q, want %q", s.Headers, tt.wantHeaders)
			}
			if len(s.Rows) != tt.wantRows {
				t.Fatalf("got %d rows, want %d", len(s.Rows), tt.wantRows)
			}
			if strings.Join(s.Rows[0].Cells, "|") != strings.Join(tt.firstCells, "|") {
				t.Errorf("first row = %q, want %q", s.Rows[0].Cells, tt.firstCells)
			}
		})
	}
}

func TestReadCSVRowIndexes(t *testing.T) {
	s, err := ReadCSV(strings.NewReader("Title\nStation,Owner\nST100,Ana\n\nST200,Bob\n"), "s", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Rows) != 2 || s.Rows[0].Index != 3 || s.Rows[1].Index != 5 {
		t.Errorf("rows = %+v, want sheet rows 3 and 5", s.Rows)
	}
}

func TestReadCSVTooLarge(t *testing.T) {
	input := "Station,Owner\n" + strings.Repeat("ST100,Ana\n", 100)

	if _, err := ReadCSV(strings.NewReader(input), "s", Options{MaxBytes: 64}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
	if _, err := ReadCSV(strings.NewReader(input), "s", Options{MaxBytes: int64(len(input))}); err != nil {
		t.Errorf("exact-size input rejected: %v", err)
	}
}

func TestRead(t *testing.T) {
	if _, err := Read("notes.pdf", strings.NewReader("x"), Options{}); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("err = %v, want ErrUnsupportedFile", err)
	}

	sheets, err := Read("Status Export.csv", strings.NewReader("Station,Owner\nST100,Ana\n"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sheets) != 1 || sheets[0].Name != "Status Export" {
		t.Errorf("sheets = %+v", sheets)
	}

	sheets, err = Read("robots.tsv", strings.NewReader("Robot,Type\tStation\nRB01,KR\tST100\n"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sheets[0].Headers) != 2 || sheets[0].Headers[0] != "Robot,Type" {
		t.Errorf(".tsv should always split on tabs: %q", sheets[0].Headers)
	}
}

func TestSupported(t *testing.T) {
	for name, want := range map[string]bool{
		"a.xlsx": true, "a.XLSM": true, "a.csv": true, "a.tsv": true,
		"a.xls": false, "a.pdf": false, "noext": false,
	} {
		if got := Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Simulation status"},
		{"Station", "Line", "Sim Status"},
		{"ST100", "L1", "done"},
		{nil, nil, nil},
		{"ST200", "L2", 42},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.NewSheet("Hidden"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Hidden", "A1", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetVisible("Hidden", false); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadXLSX(t *testing.T) {
	data := buildWorkbook(t)

	sheets, err := Read("status.xlsx", bytes.NewReader(data), Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(sheets) != 1 {
		t.Fatalf("got %d sheets, want 1 (hidden sheet skipped)", len(sheets))
	}

	s := sheets[0]
	if s.Name != "Sheet1" || strings.Join(s.Headers, "|") != "Station|Line|Sim Status" {
		t.Errorf("sheet = %q headers %q", s.Name, s.Headers)
	}
	if len(s.Rows) != 2 {
		t.Fatalf("rows = %+v", s.Rows)
	}
	if s.Rows[0].Index != 3 || s.Rows[1].Index != 5 {
		t.Errorf("row indexes = %d, %d; want 3, 5", s.Rows[0].Index, s.Rows[1].Index)
	}
	if s.Rows[1].Cells[2] != "42" {
		t.Errorf("numeric cell = %q, want 42", s.Rows[1].Cells[2])
	}
}

func TestReadXLSXErrors(t *testing.T) {
	if _, err := ReadXLSX(strings.NewReader("not a zip"), Options{}); err == nil {
		t.Error("expected error for corrupt workbook")
	}

	data := buildWorkbook(t)
	if _, err := ReadXLSX(bytes.NewReader(data), Options{MaxBytes: 100}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestHeaderRow(t *testing.T) {
	tests := []struct {
		name string
		raw  [][]string
		want int
	}{
		{"first row", [][]string{{"a", "b"}, {"1", "2"}}, 0},
		{"after title", [][]string{{"Title"}, {}, {"a", "b"}}, 2},
		{"single column", [][]string{{""}, {"Station"}, {"ST100"}}, 1},
		{"empty", [][]string{{}, {" "}}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headerRow(tt.raw); got != tt.want {
				t.Errorf("headerRow = %d, want %d", got, tt.want)
			}
		})
	}
}
