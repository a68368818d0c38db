package core

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ParseNumeric Tests
// ----------------------------------------------------------------------------

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		want      float64
	}{
		{name: "positive integer", input: "123", wantValid: true, want: 123},
		{name: "zero", input: "0", wantValid: true, want: 0},
		{name: "negative integer", input: "-456", wantValid: true, want: -456},
		{name: "decimal number", input: "123.45", wantValid: true, want: 123.45},
		{name: "leading decimal point", input: ".99", wantValid: true, want: 0.99},
		{name: "dollar sign", input: "$1,234.56", wantValid: true, want: 1234.56},
		{name: "euro sign", input: "€99", wantValid: true, want: 99},
		{name: "accounting negative", input: "(500.00)", wantValid: true, want: -500},
		{name: "scientific notation", input: "1.5e3", wantValid: true, want: 1500},
		{name: "surrounding whitespace", input: "  42  ", wantValid: true, want: 42},
		{name: "empty string", input: "", wantValid: false},
		{name: "letters", input: "abc", wantValid: false},
		{name: "two decimal points", input: "1.2.3", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumeric(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseNumeric(%q) ok = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if ok && got != tt.want {
				t.Errorf("ParseNumeric(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseInteger(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      int64
	}{
		{"7", true, 7},
		{"-12", true, -12},
		{"12.0", true, 12},
		{"1,000", true, 1000},
		{"12.5", false, 0},
		{"", false, 0},
		{"x", false, 0},
	}

	for _, tt := range tests {
		got, ok := ParseInteger(tt.input)
		if ok != tt.wantValid {
			t.Errorf("ParseInteger(%q) ok = %v, want %v", tt.input, ok, tt.wantValid)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseInteger(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantYear  int
		wantMonth time.Month
		wantDay   int
	}{
		{name: "ISO format", input: "2024-01-15", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "ISO leap day", input: "2024-02-29", wantValid: true, wantYear: 2024, wantMonth: time.February, wantDay: 29},
		{name: "US slashes", input: "01/15/2024", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "single digit month/day", input: "1/5/2024", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 5},
		{name: "year first with slash", input: "2024/01/15", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "month name", input: "Jan 15, 2024", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "compact", input: "20240115", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "empty", input: "", wantValid: false},
		{name: "garbage", input: "not a date", wantValid: false},
		{name: "invalid day", input: "2024-02-30", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if !ok {
				return
			}
			if got.Year() != tt.wantYear || got.Month() != tt.wantMonth || got.Day() != tt.wantDay {
				t.Errorf("ParseDate(%q) = %v, want %d-%02d-%02d", tt.input, got, tt.wantYear, tt.wantMonth, tt.wantDay)
			}
		})
	}
}

func TestParseDate_TwoDigitYear(t *testing.T) {
	originalPivot := TwoDigitYearPivot
	defer func() { TwoDigitYearPivot = originalPivot }()
	TwoDigitYearPivot = 20

	got, ok := ParseDate("1/2/99")
	if !ok {
		t.Fatal("ParseDate(1/2/99) should be valid")
	}
	if got.Year() != 1999 {
		t.Errorf("year = %d, want 1999", got.Year())
	}
}

// ----------------------------------------------------------------------------
// ParseBool Tests
// ----------------------------------------------------------------------------

func TestParseBool(t *testing.T) {
	tests := []struct {
		input     string
		want      bool
		wantValid bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"yes", true, true},
		{"y", true, true},
		{"1", true, true},
		{"false", false, true},
		{"No", false, true},
		{"0", false, true},
		{"", false, false},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		got, ok := ParseBool(tt.input)
		if ok != tt.wantValid || got != tt.want {
			t.Errorf("ParseBool(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantValid)
		}
	}
}

// ----------------------------------------------------------------------------
// RenderValue Tests
// ----------------------------------------------------------------------------

func TestRenderValue(t *testing.T) {
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	stamp := time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "Queen", "Queen"},
		{"date", date, "2024-03-09"},
		{"timestamp", stamp, "2024-03-09T10:30:00Z"},
		{"date pointer", &date, "2024-03-09"},
		{"true", true, "1"},
		{"false", false, "0"},
		{"float", 12.5, "12.5"},
		{"whole float", float64(3), "3"},
		{"int64", int64(42), "42"},
		{"int", 7, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderValue(tt.input); got != tt.want {
				t.Errorf("RenderValue(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CleanHeader / HeaderIndex Tests
// ----------------------------------------------------------------------------

func TestCleanHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  value  ", "value"},
		{`="00123"`, "00123"},
		{"=SUM", "SUM"},
		{`"quoted"`, "quoted"},
		{"'single'", "single"},
		{"", ""},
		{"1:2024-01-01", "1:2024-01-01"},
	}

	for _, tt := range tests {
		if got := CleanHeader(tt.input); got != tt.want {
			t.Errorf("CleanHeader(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestHeaderIndexCellKeepsData(t *testing.T) {
	idx := MakeHeaderIndex([]string{`="Name"`})
	tests := []string{
		`Dwayne "The Rock"`,
		"'Til Tuesday",
		"=SUM(A1)",
		`"quoted"`,
	}

	for _, want := range tests {
		got, ok := idx.Cell([]string{"  " + want + " "}, "Name")
		if !ok {
			t.Fatalf("Cell(%q): column not found", want)
		}
		if got != want {
			t.Errorf("Cell() = %q, want %q", got, want)
		}
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{"Name", " External ID ", "BANDS"})

	want := map[string]int{"name": 0, "external id": 1, "bands": 2}
	for key, pos := range want {
		got, ok := idx[key]
		if !ok {
			t.Errorf("missing key %q", key)
			continue
		}
		if got != pos {
			t.Errorf("idx[%q] = %d, want %d", key, got, pos)
		}
	}
}

func TestMakeHeaderIndex_DuplicateHeaders(t *testing.T) {
	idx := MakeHeaderIndex([]string{"name", "Name"})
	if idx["name"] != 0 {
		t.Errorf("duplicate header should keep first position, got %d", idx["name"])
	}
}

func TestHeaderIndexCell(t *testing.T) {
	idx := MakeHeaderIndex([]string{"name", "bands"})

	if v, ok := idx.Cell([]string{" Freddie ", "1"}, "Name"); !ok || v != "Freddie" {
		t.Errorf("Cell(name) = (%q, %v), want (Freddie, true)", v, ok)
	}
	if v, ok := idx.Cell([]string{"Freddie"}, "bands"); !ok || v != "" {
		t.Errorf("Cell on short row = (%q, %v), want (\"\", true)", v, ok)
	}
	if _, ok := idx.Cell([]string{"Freddie"}, "missing"); ok {
		t.Error("Cell(missing) should report absent column")
	}
}
