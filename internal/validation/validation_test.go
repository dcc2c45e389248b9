package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestTextValidators(t *testing.T) {
	tests := []struct {
		name    string
		check   func(string) *ValidationError
		value   string
		wantMsg string
	}{
		{"utf8 plain", func(v string) *ValidationError { return ValidateUTF8("food", v) }, "porridge", ""},
		{"utf8 accented", func(v string) *ValidationError { return ValidateUTF8("food", v) }, "crème brûlée", ""},
		{"utf8 emoji", func(v string) *ValidationError { return ValidateUTF8("food", v) }, "🍳 eggs", ""},
		{"utf8 broken", func(v string) *ValidationError { return ValidateUTF8("food", v) }, "egg\xff\xfe", "must be valid UTF-8"},
		{"nul clean", func(v string) *ValidationError { return ValidateNoNullBytes("food", v) }, "toast", ""},
		{"nul embedded", func(v string) *ValidationError { return ValidateNoNullBytes("food", v) }, "to\x00ast", "must not contain null bytes"},
		{"required set", func(v string) *ValidationError { return ValidateRequired("start_date", v) }, "2024-03-07", ""},
		{"required empty", func(v string) *ValidationError { return ValidateRequired("start_date", v) }, "", "is required"},
		{"required blank", func(v string) *ValidationError { return ValidateRequired("start_date", v) }, " \t\n", "is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.value)
			if tt.wantMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %+v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected %q, got nil", tt.wantMsg)
			}
			if err.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Message, tt.wantMsg)
			}
		})
	}
}

func TestValidateMaxLength_CountsCharacters(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{strings.Repeat("a", 10), false},
		{strings.Repeat("a", 11), true},
		// 10 multi-byte runes are 40 bytes but still within the limit.
		{strings.Repeat("🥑", 10), false},
		{strings.Repeat("🥑", 11), true},
	}

	for _, tt := range tests {
		err := ValidateMaxLength("food", tt.value, 10)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateMaxLength(%d runes) = %v, wantErr %v", len([]rune(tt.value)), err, tt.wantErr)
		}
		if err != nil && !strings.Contains(err.Message, "10 characters") {
			t.Errorf("message = %q", err.Message)
		}
	}
}

func TestValidateEnum(t *testing.T) {
	users := []string{"user1", "user2"}

	if err := ValidateEnum("user", "user2", users); err != nil {
		t.Errorf("user2 rejected: %v", err)
	}
	for _, v := range []string{"", "user3", "User1"} {
		err := ValidateEnum("user", v, users)
		if err == nil {
			t.Errorf("%q accepted", v)
			continue
		}
		if err.Message != "must be one of: user1, user2" {
			t.Errorf("message = %q", err.Message)
		}
	}
}

func TestValidateIntRange(t *testing.T) {
	tests := []struct {
		value   int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{38, false},
		{75, false},
		{76, true},
		{-1, true},
	}

	for _, tt := range tests {
		err := ValidateIntRange("day", tt.value, 1, 75)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateIntRange(%d) = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
		if err != nil && err.Message != "must be between 1 and 75" {
			t.Errorf("message = %q", err.Message)
		}
	}
}

func TestCollector(t *testing.T) {
	// Given: An empty collector
	var c Collector
	if c.HasErrors() || c.Err() != nil || len(c.Errors()) != 0 {
		t.Fatal("zero collector reports errors")
	}

	// When: Valid and invalid checks are chained
	c.Add(ValidateIntRange("day", 0, 1, 75))
	c.Add(ValidateEnum("user", "user1", []string{"user1", "user2"}))
	c.Add(ValidateRequired("task", ""))

	// Then: Only failures are kept, in order
	got := c.Errors()
	if len(got) != 2 || got[0].Field != "day" || got[1].Field != "task" {
		t.Fatalf("errors = %+v", got)
	}

	// And: Err reports every field
	err := c.Err()
	var verr *Error
	if !errors.As(err, &verr) || len(verr.Errors) != 2 {
		t.Fatalf("Err() = %v", err)
	}
	want := "day must be between 1 and 75; task is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	// And: The returned error does not alias the collector
	c.Add(ValidateRequired("start_date", ""))
	if len(verr.Errors) != 2 {
		t.Error("Err() result changed after a later Add")
	}
}
