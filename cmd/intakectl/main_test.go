package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"caseintake-backend/models"
	"caseintake-backend/service"
)

func TestFieldsCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"fields"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 8 {
		t.Fatalf("expected 8 fields, got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "title") || strings.Contains(lines[0], "(required)") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(out.String(), "partiesText") || !strings.Contains(out.String(), "evidenceText") {
		t.Fatalf("expected form paths in output:\n%s", out.String())
	}
}

func TestFieldsCommandCustomVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	vocabulary := "version: 1\nfields:\n  - key: summary\n    form_path: summary\n    label: Summary\n    kind: text\n    required: true\n"
	if err := os.WriteFile(path, []byte(vocabulary), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--fields", path, "fields"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); !strings.HasPrefix(got, "summary") || !strings.HasSuffix(got, "Summary (required)") {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestProgressRequiresCaseID(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"progress"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an argument error")
	}
}

func TestPrintProgress(t *testing.T) {
	fields := service.DefaultFieldMap()

	var out bytes.Buffer
	printProgress(&out, "case-1", models.CaseDraft{Jurisdiction: "Israeli Civil Court", Category: "Property"}, fields)
	want := "case-1: 29%\nmissing: Summary, Goal, Parties, Evidence, Start date\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}

	out.Reset()
	printProgress(&out, "case-2", models.CaseDraft{
		Summary:      "Fence damaged",
		Jurisdiction: "Israeli Civil Court",
		Category:     "Property",
		Goal:         "Compensation",
		Parties:      []models.Party{{Role: "plaintiff", Name: "Dana"}},
		Evidence:     []models.Evidence{{Title: "Photos"}},
		StartDate:    "2024-03-01",
	}, fields)
	if out.String() != "case-2: 100%\nready for case plan\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}
