package sheetstore

import "testing"

func TestSchemaFromHeader(t *testing.T) {
	schema := SchemaFromHeader([]string{"commission_id", "activity_id", "C_ClassroomSetup", "", "C_ClassroomSetup_user", "commission_id"})

	tests := []struct {
		column  string
		want    int
		wantErr bool
	}{
		{column: "commission_id", want: 0}, // first occurrence wins
		{column: "activity_id", want: 1},
		{column: "C_ClassroomSetup", want: 2},
		{column: "C_ClassroomSetup_user", want: 4},
		{column: "C_Enrollment", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			got, err := schema.Col(tt.column)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Col() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Col() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	trues := []string{"TRUE", "true", "1", "yes", " x "}
	for _, s := range trues {
		if !ParseBool(s) {
			t.Errorf("ParseBool(%q) = false", s)
		}
	}
	falses := []string{"", "FALSE", "false", "0", "no", "maybe"}
	for _, s := range falses {
		if ParseBool(s) {
			t.Errorf("ParseBool(%q) = true", s)
		}
	}
}

func TestA1Ref(t *testing.T) {
	tests := []struct {
		col, row int
		want     string
	}{
		{col: 0, row: 1, want: "t!A1"},
		{col: 2, row: 5, want: "t!C5"},
		{col: 25, row: 2, want: "t!Z2"},
		{col: 26, row: 2, want: "t!AA2"},
		{col: 27, row: 5, want: "t!AB5"},
		{col: 51, row: 3, want: "t!AZ3"},
		{col: 52, row: 3, want: "t!BA3"},
	}
	for _, tt := range tests {
		if got := A1Ref("t", tt.col, tt.row); got != tt.want {
			t.Errorf("A1Ref(%d, %d) = %s, want %s", tt.col, tt.row, got, tt.want)
		}
	}
}
