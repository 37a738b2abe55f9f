package types

import (
	"testing"
)

func sampleBatch() Batch {
	return Batch{
		Tenant:  "7",
		Columns: []string{"S_NAME", "NS_TEMPERATURE"},
		Rows: []Record{
			{"S_NAME": "User_7_0", "NS_TEMPERATURE": 21.5},
			{"S_NAME": "User_7_1", "NS_TEMPERATURE": 22.5},
		},
	}
}

func TestBatch_CloneIsIndependent(t *testing.T) {
	b := sampleBatch()
	cp := b.Clone()

	cp.Rows[0]["S_NAME"] = "changed"
	cp.Columns[0] = "S_OTHER"

	if b.Rows[0]["S_NAME"] != "User_7_0" {
		t.Error("mutating the clone's row changed the original")
	}
	if b.Columns[0] != "S_NAME" {
		t.Error("mutating the clone's columns changed the original")
	}
}

func TestBatch_ProjectPreservesOrder(t *testing.T) {
	b := sampleBatch()
	p := b.Project([]string{"NS_TEMPERATURE"})

	if p.Len() != b.Len() {
		t.Fatalf("projection has %d rows, want %d", p.Len(), b.Len())
	}
	for i := range b.Rows {
		if p.Rows[i]["NS_TEMPERATURE"] != b.Rows[i]["NS_TEMPERATURE"] {
			t.Errorf("row %d: got %v, want %v", i, p.Rows[i]["NS_TEMPERATURE"], b.Rows[i]["NS_TEMPERATURE"])
		}
		if _, ok := p.Rows[i]["S_NAME"]; ok {
			t.Errorf("row %d: projected away column still present", i)
		}
	}
}

func TestBatch_Validate(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{"valid", sampleBatch(), false},
		{"no tenant", Batch{Columns: []string{"S_ID"}}, true},
		{"duplicate column", Batch{Tenant: "1", Columns: []string{"S_ID", "S_ID"}}, true},
		{"empty column", Batch{Tenant: "1", Columns: []string{""}}, true},
		{"nil row", Batch{Tenant: "1", Columns: []string{"S_ID"}, Rows: []Record{nil}}, true},
		{"field outside schema", Batch{Tenant: "1", Columns: []string{"S_ID"}, Rows: []Record{{"NS_X": 1.0}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.batch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRowIdentifierAndTenantTag(t *testing.T) {
	if got := RowIdentifier("3", 0); got != "3_1" {
		t.Errorf("RowIdentifier = %q, want %q", got, "3_1")
	}
	if got := TenantTag("3"); got != "NS_T3" {
		t.Errorf("TenantTag = %q, want %q", got, "NS_T3")
	}
}

func TestArtifact_ObjectKey(t *testing.T) {
	a := Artifact{Kind: ArtifactSensitive, Path: "/tmp/run/sensitive_data_tenant_1.crypt"}
	if got := a.ObjectKey(); got != "framework/sensitive/sensitive_data_tenant_1.crypt" {
		t.Errorf("ObjectKey = %q", got)
	}
}
