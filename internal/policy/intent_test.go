package policy

import "testing"

func TestLooksLikeBookingRequest(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"I need a conference room for 10 people tomorrow at 2 PM", true},
		{"book something for friday", true},
		{"tomorrow at 2pm for one hour", true},
		{"hello there", false},
		{"", false},
		{"thanks!", false},
	}
	for _, tc := range cases {
		if got := LooksLikeBookingRequest(tc.text); got != tc.want {
			t.Fatalf("LooksLikeBookingRequest(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
