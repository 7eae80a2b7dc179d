package scoring

import (
	"math"
	"reflect"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore(t *testing.T) {
	corrected := Hints{StaleNames: []string{"alice"}, PreferredNames: []string{"bob"}}
	tests := []struct {
		name    string
		content string
		query   string
		hints   Hints
		want    float64
	}{
		{"correction prefix", "CORRECTION: User's name is NOT Alice", "what is my name", Hints{}, 0.01},
		{"negation", "User is not a fan of jazz", "jazz", Hints{}, 0.01},
		{"stale name", "User's name is Alice", "what is my name", corrected, 0.02},
		{"plain name", "User's name is Bob", "what is my name", Hints{}, 0.4},
		{"preferred name", "User's name is Bob", "what is my name", corrected, 0.525},
		{"work bonus", "User works as a software engineer", "what is my job", Hints{}, 0.1},
		{"broad floor", "User likes chess", "what do you know about me", Hints{}, 0.15},
		{"capped", "my name", "name", Hints{}, 1.0},
		{"single word", "chess", "chess", Hints{}, 0.7},
		{"empty query", "User likes chess", "", Hints{}, 0},
		{"no overlap", "User likes chess", "weather tomorrow", Hints{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.content, tt.query, tt.hints)
			if !approx(got, tt.want) {
				t.Errorf("Score(%q, %q) = %v, want %v", tt.content, tt.query, got, tt.want)
			}
		})
	}
}

func TestScoreDeterministicAndBounded(t *testing.T) {
	inputs := []string{
		"", "name", "User's name is Bob", "tell me about my work and job and career",
		"CORRECTION: nope", "what do you know about me", "a b c d e f g",
		"User works in data engineering at a large company",
	}
	for _, c := range inputs {
		for _, q := range inputs {
			first := Score(c, q, Hints{})
			second := Score(c, q, Hints{})
			if first != second {
				t.Errorf("Score(%q, %q) not deterministic: %v vs %v", c, q, first, second)
			}
			if first < 0 || first > 1 {
				t.Errorf("Score(%q, %q) = %v out of range", c, q, first)
			}
		}
	}
}

func TestIncorrectName(t *testing.T) {
	name, ok := IncorrectName("CORRECTION: User's name is NOT Mary Ann")
	if !ok || name != "mary ann" {
		t.Errorf("got (%q, %v), want (\"mary ann\", true)", name, ok)
	}
	if _, ok := IncorrectName("User's name is Bob"); ok {
		t.Error("plain name should not yield an incorrect name")
	}
}

func TestHintsFrom(t *testing.T) {
	h := HintsFrom([]string{
		"User's name is Alice",
		"User's name is Bob",
		"CORRECTION: User's name is NOT Alice",
		"User likes chess",
	})
	want := Hints{StaleNames: []string{"alice"}, PreferredNames: []string{"bob"}}
	if !reflect.DeepEqual(h, want) {
		t.Errorf("HintsFrom = %+v, want %+v", h, want)
	}

	if h := HintsFrom([]string{"User's name is Bob"}); len(h.PreferredNames) != 0 {
		t.Errorf("no correction present, want no preferred names, got %v", h.PreferredNames)
	}
}
