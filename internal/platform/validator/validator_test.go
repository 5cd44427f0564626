package validator

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Name  string  `json:"name" validate:"required"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max" validate:"gtfield=Min"`
	Email string  `json:"-" validate:"omitempty,email"`
}

func TestStructUsesJSONNames(t *testing.T) {
	v := New()

	err := v.Struct(sample{Min: 5, Max: 1})
	if err == nil {
		t.Fatal("expected validation error")
	}

	msg := Describe(err)
	for _, want := range []string{"name failed required", "max failed gtfield=Min"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Describe() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestStructValid(t *testing.T) {
	if err := New().Struct(sample{Name: "ok", Min: 1, Max: 2}); err != nil {
		t.Errorf("Struct() error = %v, want nil", err)
	}
}

func TestVar(t *testing.T) {
	v := New()
	if err := v.Var("call", "oneof=call whatsapp"); err != nil {
		t.Errorf("Var(call) error = %v", err)
	}
	if err := v.Var("fax", "oneof=call whatsapp"); err == nil {
		t.Error("Var(fax) expected error")
	}
}

func TestDescribePassesThroughOtherErrors(t *testing.T) {
	if got := Describe(nil); got != "" {
		t.Errorf("Describe(nil) = %q, want empty", got)
	}
	if got := Describe(errors.New("boom")); got != "boom" {
		t.Errorf("Describe(boom) = %q, want boom", got)
	}
}
