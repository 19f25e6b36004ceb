package tokens

import "testing"

func TestApproximateCount(t *testing.T) {
	est := Approximate{}

	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{name: "empty string", text: "", expected: 0},
		{name: "whitespace only", text: "   \t\n  ", expected: 0},
		// "hello world": word estimate round(2*1.3)=3, char estimate
		// round(11*0.25)=3
		{name: "two words", text: "hello world", expected: 3},
		// single long token: word estimate 1, char estimate dominates
		{name: "long token", text: "abcdefghijklmnop", expected: 4},
		// collapsed whitespace must not inflate the char estimate
		{name: "ragged whitespace", text: "hello   \n\t world", expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := est.Count(tt.text); got != tt.expected {
				t.Errorf("Count(%q) = %d, expected %d", tt.text, got, tt.expected)
			}
		})
	}
}

func TestApproximateTakesLargerEstimate(t *testing.T) {
	est := Approximate{}

	// Many short words: word estimate should win.
	short := "a b c d e f g h i j"
	words := est.Count(short)
	if words != 13 { // round(10 * 1.3)
		t.Errorf("Expected word-driven estimate 13, got %d", words)
	}

	// One huge word: char estimate should win.
	long := "supercalifragilisticexpialidocious"
	chars := est.Count(long)
	if chars != 9 { // round(34 * 0.25)
		t.Errorf("Expected char-driven estimate 9, got %d", chars)
	}
}

func TestNewEstimator(t *testing.T) {
	if _, ok := NewEstimator(nil).(Approximate); !ok {
		t.Error("Expected approximate estimator when no precise one is supplied")
	}

	precise := fixedEstimator{tokens: 42}
	if got := NewEstimator(precise).Count("anything"); got != 42 {
		t.Errorf("Expected precise estimator to be used, got %d", got)
	}
}

func TestTurnCost(t *testing.T) {
	if got := TurnCost(10); got != 10+RoleOverhead {
		t.Errorf("TurnCost(10) = %d, expected %d", got, 10+RoleOverhead)
	}
	if got := TurnCost(0); got != RoleOverhead {
		t.Errorf("TurnCost(0) = %d, expected %d", got, RoleOverhead)
	}
}

// fixedEstimator returns a constant count, standing in for a real tokenizer.
type fixedEstimator struct {
	tokens int
}

func (f fixedEstimator) Count(string) int {
	return f.tokens
}
