package persona

import (
	"testing"
)

func testDNA() DNA {
	return DNA{
		RoleSeniority: "senior backend developer",
		Domain:        "development",
		Methodologies: []string{"tdd", "code_review"},
		Constraints:   map[string]string{"max_loc": "500"},
		OutputFormat:  map[string]string{"style": "markdown"},
	}
}

func TestInsertCollapsesIdenticalDNA(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	id1, err := s.Insert(testDNA())
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Insert(testDNA())
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("inserting identical DNA twice produced different ids: %s vs %s", id1, id2)
	}
	if len(s.List(Filter{})) != 1 {
		t.Errorf("expected exactly one persona after collapse, got %d", len(s.List(Filter{})))
	}
}

func TestMatchThresholdSelfSimilarityIsOne(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	dna := testDNA()
	if _, err := s.Insert(dna); err != nil {
		t.Fatal(err)
	}
	result, ok := s.Match(dna)
	if !ok {
		t.Fatal("expected a match for identical DNA")
	}
	if result.Similarity != 1.0 {
		t.Errorf("Similarity = %f, want 1.0", result.Similarity)
	}
}

func TestMatchBelowThresholdFails(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(testDNA()); err != nil {
		t.Fatal(err)
	}
	unrelated := DNA{
		RoleSeniority: "junior data analyst",
		Domain:        "data",
		Methodologies: []string{"exploratory_analysis"},
	}
	if _, ok := s.Match(unrelated); ok {
		t.Error("expected no match for dissimilar DNA")
	}
}

func TestRecordUseAppliesEMA(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Insert(testDNA())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUse(id, 1.0); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Get(id)
	if p.Score != 1.0 || p.UsageCount != 1 {
		t.Errorf("after first use: score=%f usage=%d, want 1.0/1", p.Score, p.UsageCount)
	}
	if err := s.RecordUse(id, 0.0); err != nil {
		t.Fatal(err)
	}
	p, _ = s.Get(id)
	want := 0.2*0.0 + 0.8*1.0
	if p.Score != want {
		t.Errorf("after second use: score=%f, want %f", p.Score, want)
	}
	if p.UsageCount != 2 {
		t.Errorf("usage count = %d, want 2", p.UsageCount)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s1.Insert(testDNA())
	if err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := s2.Get(id)
	if !ok {
		t.Fatal("expected persona to survive reopen")
	}
	if p.DNA.RoleSeniority != testDNA().RoleSeniority {
		t.Error("reloaded persona DNA mismatch")
	}
}
