package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderQuery(t *testing.T) {
	p := NewStaticProvider([]Snippet{
		{Title: "always", Content: "Amounts are in ICP."},
		{Title: "fees", Content: "Ledger transfers cost 0.0001 ICP.", Keywords: []string{"transfer", "send"}},
		{Title: "address", Content: "Account IDs are 64 hex chars.", Tags: []string{"address"}},
		{Title: "send-to-address", Content: "Use the account id.", Keywords: []string{"send"}, Tags: []string{"address"}},
	}, 2)

	got := p.Query("Please SEND 1 ICP to my friend")
	if len(got) != 2 || got[0].Title != "fees" || got[1].Title != "send-to-address" {
		t.Fatalf("unexpected snippets: %+v", got)
	}

	got = p.Query("send to this address")
	if len(got) != 2 || got[0].Title != "send-to-address" || got[1].Title != "fees" {
		t.Fatalf("expected highest score first: %+v", got)
	}

	got = p.Query("hello")
	if len(got) != 1 || got[0].Title != "always" {
		t.Fatalf("expected general snippet only: %+v", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "knowledge.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"title":"t","content":"c","keywords":["balance"]}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadStaticProvider(jsonPath, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Query("balance?")) != 1 || len(p.Query("hello")) != 0 {
		t.Fatalf("unexpected matching")
	}

	yamlPath := filepath.Join(dir, "knowledge.yaml")
	yamlDoc := "- title: units\n  content: 1 ICP is 100000000 e8s\n  keywords: [e8s]\n"
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err = LoadStaticProvider(yamlPath, 0)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if got := p.Query("how many e8s?"); len(got) != 1 || got[0].Title != "units" {
		t.Fatalf("unexpected yaml snippets: %+v", got)
	}

	if _, err := LoadStaticProvider("", 1); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadStaticProvider(filepath.Join(dir, "missing.json"), 1); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
