package extract

import (
	"testing"
	"time"
)

func TestBuildCriteriaFromPayload(t *testing.T) {
	p := criteriaPayload{
		Date:            "2024-01-15",
		StartTime:       "14:00",
		DurationMinutes: 120,
		Capacity:        10,
		Amenities:       []string{"Projector", ""},
		Purpose:         " team sync ",
	}
	c, err := buildCriteria(p, anchor)
	if err != nil {
		t.Fatalf("buildCriteria: %v", err)
	}
	wantDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !c.Start.Equal(wantDate.Add(14*time.Hour)) || !c.End.Equal(wantDate.Add(16*time.Hour)) {
		t.Fatalf("window = %v..%v, want 14:00..16:00", c.Start, c.End)
	}
	if len(c.Amenities) != 1 || c.Amenities[0] != "projector" {
		t.Fatalf("Amenities = %v, want [projector]", c.Amenities)
	}
	if c.Purpose != "team sync" {
		t.Fatalf("Purpose = %q, want %q", c.Purpose, "team sync")
	}
}

func TestBuildCriteriaMissingFields(t *testing.T) {
	p := criteriaPayload{Date: "tomorrow"}
	_, err := buildCriteria(p, anchor)
	f, ok := AsFailure(err)
	if !ok || f.Kind != KindMissingField {
		t.Fatalf("err = %v, want missing-field failure", err)
	}
	want := map[string]bool{"start_time": true, "capacity": true}
	if len(f.MissingFields) != 2 {
		t.Fatalf("MissingFields = %v, want start_time and capacity", f.MissingFields)
	}
	for _, field := range f.MissingFields {
		if !want[field] {
			t.Fatalf("unexpected missing field %q", field)
		}
	}
}

func TestBuildCriteriaEndBeforeStartRollsOver(t *testing.T) {
	p := criteriaPayload{Date: "2024-01-15", StartTime: "23:00", EndTime: "01:00", Capacity: 2}
	c, err := buildCriteria(p, anchor)
	if err != nil {
		t.Fatalf("buildCriteria: %v", err)
	}
	if !c.End.After(c.Start) {
		t.Fatalf("End %v not after Start %v", c.End, c.Start)
	}
	if got := c.End.Sub(c.Start); got != 2*time.Hour {
		t.Fatalf("window = %v, want 2h", got)
	}
}

func TestNewExtractorModes(t *testing.T) {
	if _, err := NewExtractor(Config{Mode: "rules"}); err != nil {
		t.Fatalf("rules mode: %v", err)
	}
	if _, err := NewExtractor(Config{Mode: "openai"}); err == nil {
		t.Fatalf("openai mode without API key should fail")
	}
	if _, err := NewExtractor(Config{Mode: "bogus"}); err == nil {
		t.Fatalf("unsupported mode should fail")
	}
	e, err := NewExtractor(Config{})
	if err != nil {
		t.Fatalf("auto mode: %v", err)
	}
	if _, ok := e.(*RuleExtractor); !ok {
		t.Fatalf("auto mode without API key = %T, want *RuleExtractor", e)
	}
}
