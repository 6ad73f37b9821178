package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidatorRules(t *testing.T) {
	tests := []struct {
		name      string
		apply     func(v *Validator)
		wantError bool
	}{
		{"non-empty value", func(v *Validator) { v.RequireNonEmpty("f", "valid") }, false},
		{"blank value", func(v *Validator) { v.RequireNonEmpty("f", "   ") }, true},
		{"positive int", func(v *Validator) { v.RequirePositive("f", 10) }, false},
		{"zero int", func(v *Validator) { v.RequirePositive("f", 0) }, true},
		{"negative int", func(v *Validator) { v.RequirePositive("f", -5) }, true},
		{"positive duration", func(v *Validator) { v.RequirePositiveDuration("f", time.Second) }, false},
		{"zero duration", func(v *Validator) { v.RequirePositiveDuration("f", 0) }, true},
		{"in range", func(v *Validator) { v.ValidateRange("f", 5, 1, 10) }, false},
		{"range lower bound", func(v *Validator) { v.ValidateRange("f", 1, 1, 10) }, false},
		{"above range", func(v *Validator) { v.ValidateRange("f", 11, 1, 10) }, true},
		{"float in range", func(v *Validator) { v.ValidateFloatRange("f", 0.3, 0, 1) }, false},
		{"float above range", func(v *Validator) { v.ValidateFloatRange("f", 1.2, 0, 1) }, true},
		{"redis db 15", func(v *Validator) { v.ValidateDBNumber("f", 15) }, false},
		{"redis db 16", func(v *Validator) { v.ValidateDBNumber("f", 16) }, true},
		{"allowed option", func(v *Validator) { v.ValidateOneOf("f", "memory", "memory", "redis") }, false},
		{"unknown option", func(v *Validator) { v.ValidateOneOf("f", "disk", "memory", "redis") }, true},
		{"sql identifier", func(v *Validator) { v.RequireIdentifier("f", "reference_chunks") }, false},
		{"sql injection", func(v *Validator) { v.RequireIdentifier("f", "chunks; drop table x") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			tt.apply(v)
			if got := v.HasErrors(); got != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v", got, tt.wantError)
			}
			if (v.Error() != nil) != tt.wantError {
				t.Errorf("Error() = %v, wantError %v", v.Error(), tt.wantError)
			}
		})
	}
}

func TestValidatorMultipleErrors(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("field1", "").
		RequirePositive("field2", 0).
		ValidateRange("field3", 100, 1, 10)

	if got := len(v.Errors()); got != 3 {
		t.Fatalf("expected 3 errors, got %d", got)
	}
	msg := v.Error().Error()
	for _, field := range []string{"field1", "field2", "field3"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error message missing %q: %s", field, msg)
		}
	}
}
