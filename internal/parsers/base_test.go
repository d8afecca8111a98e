package parsers

import (
	"testing"
)

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
	if !config.ContinueOnError {
		t.Error("Expected ContinueOnError to be true")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestParseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ParseConfig)
		wantErr bool
	}{
		{"semicolon delimiter", func(c *ParseConfig) { c.Delimiter = ';' }, false},
		{"tab delimiter", func(c *ParseConfig) { c.Delimiter = '\t' }, false},
		{"zero delimiter", func(c *ParseConfig) { c.Delimiter = 0 }, true},
		{"quote delimiter", func(c *ParseConfig) { c.Delimiter = '"' }, true},
		{"comment equals delimiter", func(c *ParseConfig) { c.Comment = ',' }, true},
		{"negative max errors", func(c *ParseConfig) { c.MaxErrors = -1 }, true},
		{"negative field size", func(c *ParseConfig) { c.MaxFieldSize = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultParseConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CodicePV", "codicepv"},
		{"  Data Contabile ", "data_contabile"},
		{"Data\noperazione", "data_operazione"},
		{"Registrazione//Data", "registrazione_data"},
		{"\ufeffplant", "plant"},
		{"Importo (€)", "importo"},
	}

	for _, tt := range tests {
		if got := normalizeHeader(tt.in); got != tt.want {
			t.Errorf("normalizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlantLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"43809 - OPT1", "OPT1"},
		{"43809", ""},
		{"12: Bergamo Nord", "Bergamo Nord"},
		{"Bergamo", ""},
	}

	for _, tt := range tests {
		if got := plantLabel(tt.in); got != tt.want {
			t.Errorf("plantLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseContext_Resolve(t *testing.T) {
	t.Run("aliases", func(t *testing.T) {
		pc := newParseContext("deposits.csv")
		missing := pc.resolve([]string{"Importo", "CodicePV", "DataContabile"}, DepositLayout(), DefaultParseConfig())

		if len(missing) != 0 {
			t.Fatalf("Expected no missing columns, got %v", missing)
		}
		if got := pc.GetColumnIndex(ColAmount); got != 0 {
			t.Errorf("Expected amount at index 0, got %d", got)
		}
		if got := pc.GetColumnIndex(ColPlant); got != 1 {
			t.Errorf("Expected plant at index 1, got %d", got)
		}
		if got := pc.GetColumnIndex("unknown"); got != -1 {
			t.Errorf("Expected -1 for unknown column, got %d", got)
		}
	})

	t.Run("configured alias replaces defaults", func(t *testing.T) {
		config := DefaultParseConfig()
		config.ColumnAliases = map[string]string{ColAmount: "Versato"}

		pc := newParseContext("deposits.csv")
		missing := pc.resolve([]string{"plant", "date", "importo"}, DepositLayout(), config)
		if len(missing) != 1 || missing[0] != ColAmount {
			t.Fatalf("Expected amount to be missing, got %v", missing)
		}

		pc = newParseContext("deposits.csv")
		missing = pc.resolve([]string{"plant", "date", "VERSATO"}, DepositLayout(), config)
		if len(missing) != 0 {
			t.Fatalf("Expected configured alias to match, got missing %v", missing)
		}
	})

	t.Run("optional columns are not reported", func(t *testing.T) {
		pc := newParseContext("declared.csv")
		missing := pc.resolve([]string{"plant", "date"}, DeclaredLayout(), DefaultParseConfig())
		if len(missing) != 0 {
			t.Errorf("Expected no missing columns, got %v", missing)
		}
		if pc.Has(ColGrossTotal) {
			t.Error("Expected gross_total to be absent")
		}
	})

	t.Run("short records read as empty", func(t *testing.T) {
		pc := newParseContext("declared.csv")
		pc.resolve([]string{"plant", "date", "gross_total"}, DeclaredLayout(), DefaultParseConfig())
		if got := pc.Value([]string{"12", "2025-01-15"}, ColGrossTotal); got != "" {
			t.Errorf("Expected empty value, got %q", got)
		}
	})
}

func TestLayoutValidate(t *testing.T) {
	for _, layout := range []Layout{DeclaredLayout(), DepositLayout(), SettlementLayout()} {
		if err := layout.Validate(); err != nil {
			t.Errorf("Layout %s should be valid: %v", layout.Name, err)
		}
	}

	dup := Layout{Name: "dup", Columns: []Column{{Name: "a"}, {Name: "a"}}}
	if err := dup.Validate(); err == nil {
		t.Error("Expected error for duplicate column")
	}
	if err := (Layout{Name: "empty"}).Validate(); err == nil {
		t.Error("Expected error for layout without columns")
	}

	required := DepositLayout().Required()
	if len(required) != 3 {
		t.Errorf("Expected 3 required deposit columns, got %v", required)
	}
}

func TestParseStats(t *testing.T) {
	stats := NewParseStats("file.csv")
	if stats.HasErrors() {
		t.Error("New stats should not have errors")
	}
	if samples := stats.GetSampleErrors(3); samples != nil {
		t.Errorf("Expected no samples, got %v", samples)
	}

	stats.TotalLines = 4
	stats.RecordsParsed = 3
	stats.RecordsValid = 2
	stats.Skipped = 1
	want := "Parsed 4 lines, 3 records (2 valid, 1 skipped), 0 errors"
	if got := stats.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
