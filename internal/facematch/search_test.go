package facematch

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"José Núñez", "jose nunez"},
		{"  Anne-Marie  O'Neil ", "anne marie o'neil"},
		{"STRASSE", "strasse"},
		{"a.b_c", "a b c"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Fold(tt.in); got != tt.want {
				t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatchesQuery(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		fields []string
		want   bool
	}{
		{"empty query", "  ", []string{"Rahul Sharma"}, true},
		{"prefix", "rah", []string{"Rahul Sharma"}, true},
		{"words out of order", "sharma rahul", []string{"Rahul Sharma"}, true},
		{"accents ignored", "jose", []string{"José García"}, true},
		{"accented query", "Zoë", []string{"Zoe Lee"}, true},
		{"words across fields", "priya cse", []string{"Priya Nair", "CSE"}, true},
		{"missing word", "rahul verma", []string{"Rahul Sharma"}, false},
		{"no fields", "rahul", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesQuery(tt.query, tt.fields...); got != tt.want {
				t.Errorf("MatchesQuery(%q, %q) = %v, want %v", tt.query, tt.fields, got, tt.want)
			}
		})
	}
}
