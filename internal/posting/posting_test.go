package posting

import (
	"encoding/json"
	"os"
	"reflect"
	"testing"
)

func sampleMatches() Matches {
	return Matches{Items: []RankedMatch{
		{Posting: Posting{ID: "1", Title: "Go Developer", CompanyName: "Acme", ApplicationURL: "https://acme.example/1", DatePosted: "2024-05-01"}, SimilarityScore: 0.91},
		{Posting: Posting{ID: "2", Title: "SRE", CompanyName: "Globex"}, SimilarityScore: 0.8},
		{Posting: Posting{ID: "3", Title: "Platform Engineer", CompanyName: "Acme"}, SimilarityScore: 0.5},
	}}
}

func TestReportByCompany(t *testing.T) {
	report := sampleMatches().ReportByCompany()

	entries, ok := report["Acme"]
	if !ok {
		t.Fatalf("expected company key in report")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	entry := entries[0]
	if entry["similarity"] != "0.9100" {
		t.Fatalf("unexpected similarity: %q", entry["similarity"])
	}
	if entry["url"] != "https://acme.example/1" {
		t.Fatalf("unexpected url: %q", entry["url"])
	}
}

func TestCompaniesAndLookup(t *testing.T) {
	m := sampleMatches()

	if got := m.Companies(); !reflect.DeepEqual(got, []string{"Acme", "Globex"}) {
		t.Fatalf("unexpected companies %v", got)
	}

	match, ok := m.FindByID("2")
	if !ok || match.Title != "SRE" {
		t.Fatalf("unexpected lookup result %+v", match)
	}
	if _, ok := m.FindByID("42"); ok {
		t.Fatalf("did not expect to find missing id")
	}
}

func TestCloneDoesNotShareItems(t *testing.T) {
	m := sampleMatches()
	clone := m.Clone()
	clone.Items[0].Title = "changed"

	if m.Items[0].Title != "Go Developer" {
		t.Fatalf("clone shares backing array with original")
	}
}

func TestDumpToTmpFile(t *testing.T) {
	name, err := sampleMatches().DumpToTmpFile()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	defer os.Remove(name)

	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}

	var decoded Matches
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if decoded.Len() != 3 || decoded.Items[2].CompanyName != "Acme" {
		t.Fatalf("unexpected dump content %+v", decoded)
	}
}

func TestDedupeCompanies(t *testing.T) {
	got := DedupeCompanies([]Company{
		{ID: "3", Name: "Stripe"},
		{ID: "1", Name: "Acme"},
		{ID: "7", Name: "Stripe"},
	})

	want := []Company{{ID: "1", Name: "Acme"}, {ID: "3", Name: "Stripe"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected companies %+v", got)
	}
}
