package domain

import "testing"

func TestPeriodLess(t *testing.T) {
	tests := []struct {
		a, b Period
		want bool
	}{
		{Period{2024, "Q1"}, Period{2024, "Q2"}, true},
		{Period{2024, "Q4"}, Period{2025, "Q1"}, true},
		{Period{2025, "Q1"}, Period{2024, "Q4"}, false},
		{Period{2024, "Q2"}, Period{2024, "Q2"}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Less(tt.b); got != tt.want {
			t.Errorf("%v.Less(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPeriodValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Period
		wantErr bool
	}{
		{"valid", Period{2024, "Q3"}, false},
		{"year too small", Period{1999, "Q3"}, true},
		{"bad quarter", Period{2024, "Q5"}, true},
		{"empty quarter", Period{2024, ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeQuarter(t *testing.T) {
	tests := map[string]string{
		"q1":   "Q1",
		" Q2 ": "Q2",
		"3":    "Q3",
		"5":    "5",
	}
	for in, want := range tests {
		if got := NormalizeQuarter(in); got != want {
			t.Errorf("NormalizeQuarter(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCombinationLabel(t *testing.T) {
	c := BankPeriodCombination{BankName: "Royal Bank of Canada", BankSymbol: "RY", FiscalYear: 2024, Quarter: "Q3"}
	if got := c.Label(); got != "RY 2024 Q3" {
		t.Errorf("Label() = %q", got)
	}
	c.BankSymbol = ""
	if got := c.Label(); got != "Royal Bank of Canada 2024 Q3" {
		t.Errorf("Label() without symbol = %q", got)
	}
}
