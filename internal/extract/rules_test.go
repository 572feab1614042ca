package extract

import (
	"context"
	"testing"
	"time"
)

// anchor is Sunday 2024-01-14 09:00 UTC.
var anchor = time.Date(2024, 1, 14, 9, 0, 0, 0, time.UTC)

func TestRuleExtractorFullRequest(t *testing.T) {
	e := NewRuleExtractor()
	c, err := e.Extract(context.Background(), "I need a conference room for 10 people tomorrow at 2 PM for 2 hours", anchor)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	wantDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !c.Date.Equal(wantDate) {
		t.Fatalf("Date = %v, want %v", c.Date, wantDate)
	}
	if !c.Start.Equal(wantDate.Add(14 * time.Hour)) {
		t.Fatalf("Start = %v, want 14:00", c.Start)
	}
	if !c.End.Equal(wantDate.Add(16 * time.Hour)) {
		t.Fatalf("End = %v, want 16:00", c.End)
	}
	if c.Capacity != 10 {
		t.Fatalf("Capacity = %d, want 10", c.Capacity)
	}
}

func TestRuleExtractorMissingCapacity(t *testing.T) {
	e := NewRuleExtractor()
	_, err := e.Extract(context.Background(), "a room tomorrow at 2pm", anchor)
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if f.Kind != KindMissingField {
		t.Fatalf("Kind = %q, want %q", f.Kind, KindMissingField)
	}
	if len(f.MissingFields) != 1 || f.MissingFields[0] != "capacity" {
		t.Fatalf("MissingFields = %v, want [capacity]", f.MissingFields)
	}
}

func TestRuleExtractorExplicitWindow(t *testing.T) {
	e := NewRuleExtractor()
	c, err := e.Extract(context.Background(), "book a projector room on 2024-03-05 from 9:00 to 10:30 for 6 people", anchor)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	wantDate := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !c.Date.Equal(wantDate) {
		t.Fatalf("Date = %v, want %v", c.Date, wantDate)
	}
	if !c.Start.Equal(wantDate.Add(9 * time.Hour)) {
		t.Fatalf("Start = %v, want 09:00", c.Start)
	}
	if !c.End.Equal(wantDate.Add(10*time.Hour + 30*time.Minute)) {
		t.Fatalf("End = %v, want 10:30", c.End)
	}
	if c.Capacity != 6 {
		t.Fatalf("Capacity = %d, want 6", c.Capacity)
	}
	if len(c.Amenities) != 1 || c.Amenities[0] != "projector" {
		t.Fatalf("Amenities = %v, want [projector]", c.Amenities)
	}
}

func TestRuleExtractorHyphenatedCapacity(t *testing.T) {
	e := NewRuleExtractor()
	c, err := e.Extract(context.Background(), "find a 10-person room tomorrow from 2pm to 4pm", anchor)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if c.Capacity != 10 {
		t.Fatalf("Capacity = %d, want 10", c.Capacity)
	}
}

func TestRuleExtractorWeekdayDefaultDuration(t *testing.T) {
	e := NewRuleExtractor()
	c, err := e.Extract(context.Background(), "monday at 9am for 4 people", anchor)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Soonest Monday strictly after the Sunday anchor.
	wantDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !c.Date.Equal(wantDate) {
		t.Fatalf("Date = %v, want %v", c.Date, wantDate)
	}
	if got := c.End.Sub(c.Start); got != time.Hour {
		t.Fatalf("window = %v, want 1h default", got)
	}
}

func TestRuleExtractorEmptyInput(t *testing.T) {
	e := NewRuleExtractor()
	_, err := e.Extract(context.Background(), "   ", anchor)
	f, ok := AsFailure(err)
	if !ok || f.Kind != KindMissingField {
		t.Fatalf("err = %v, want missing-field failure", err)
	}
}
