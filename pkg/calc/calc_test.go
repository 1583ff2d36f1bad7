package calc

import (
	"errors"
	"testing"
)

func TestEval(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-5 + 3", -2},
		{"2 * -3", -6},
		{"1.5 + 2.25", 3.75},
		{"((1))", 1},
		{"7", 7},
		{"100 - 10 - 10", 80},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr)
			if err != nil {
				t.Fatalf("Eval(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalInvalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want error
	}{
		{"empty", "", ErrInvalidExpression},
		{"letters", "two plus two", ErrInvalidExpression},
		{"trailing garbage", "2 + 2 x", ErrInvalidExpression},
		{"unclosed paren", "(2 + 3", ErrInvalidExpression},
		{"double dot", "1.2.3", ErrInvalidExpression},
		{"dangling operator", "2 +", ErrInvalidExpression},
		{"division by zero", "1 / 0", ErrDivisionByZero},
		{"no code execution", "__import__('os')", ErrInvalidExpression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Eval(tt.expr)
			if !errors.Is(err, tt.want) {
				t.Errorf("Eval(%q) error = %v, want %v", tt.expr, err, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{14, "14"},
		{2.5, "2.5"},
		{-6, "-6"},
		{0.333333, "0.333333"},
	}

	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
