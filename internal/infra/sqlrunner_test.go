package infra

import (
	"errors"
	"strings"
	"testing"

	"bookforge/internal/sqlinline"
)

func TestSplitMarker(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		query   string
		marker  string
		wantErr bool
	}{
		{name: "valid", query: "\n--sql 6a9ee2e9-374d-4325-b999-91ad6e9ef398\nselect 1;\n", marker: "6a9ee2e9-374d-4325-b999-91ad6e9ef398"},
		{name: "no marker", query: "select 1;", wantErr: true},
		{name: "upper case id", query: "--sql 6A9EE2E9-374D-4325-B999-91AD6E9EF398\nselect 1;", wantErr: true},
		{name: "marker only", query: "--sql 6a9ee2e9-374d-4325-b999-91ad6e9ef398", wantErr: true},
		{name: "empty", query: "   ", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			marker, body, err := splitMarker(tt.query)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got marker %q", marker)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitMarker: %v", err)
			}
			if marker != tt.marker {
				t.Fatalf("marker = %q, want %q", marker, tt.marker)
			}
			if strings.Contains(body, "--sql") || !strings.Contains(body, "select 1;") {
				t.Fatalf("body = %q", body)
			}
		})
	}
}

func TestSplitMarkerSentinel(t *testing.T) {
	t.Parallel()
	if _, _, err := splitMarker("update t set a = 1"); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("err = %v, want ErrSQLMarker", err)
	}
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	t.Parallel()
	queries := []string{
		sqlinline.QSelectAccount,
		sqlinline.QSelectAccountByEmail,
		sqlinline.QUpsertAccountPlan,
		sqlinline.QLockAccountCredits,
		sqlinline.QInsertCreditCharge,
		sqlinline.QDecrementCredits,
		sqlinline.QInsertBookJob,
		sqlinline.QSelectBookJob,
		sqlinline.QSelectBookJobForUpdate,
		sqlinline.QUpdateBookJob,
	}
	for _, q := range queries {
		if _, _, err := splitMarker(q); err != nil {
			t.Errorf("%q: %v", firstLineOf(q), err)
		}
	}
}

func firstLineOf(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
