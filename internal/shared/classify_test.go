package shared

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		code      int
		severity  Severity
		category  Category
		retryable bool
	}{
		{10105, SeverityHigh, CategoryAuthentication, false},
		{10109, SeverityLow, CategoryAuthentication, true},
		{10007, SeverityMedium, CategoryNetwork, true},
		{10800, SeverityLow, CategoryAuthentication, true},
		{11200, SeverityHigh, CategoryParameter, false},
		{11201, SeverityHigh, CategoryParameter, false},
		{11202, SeverityHigh, CategoryParameter, false},
		{11203, SeverityMedium, CategoryParameter, false},
		{11204, SeverityMedium, CategoryParameter, false},
		{11401, SeverityMedium, CategoryParameter, false},
		{11500, SeverityMedium, CategoryUnknown, true},
		{11999, SeverityCritical, CategoryUnknown, true},
		{0, SeverityMedium, CategoryUnknown, false},
		{99999, SeverityMedium, CategoryUnknown, false},
	}

	for _, tt := range tests {
		c := Classify(tt.code)
		if c.Code != tt.code {
			t.Errorf("code %d: expected Code to be echoed, got %d", tt.code, c.Code)
		}
		if c.Severity != tt.severity {
			t.Errorf("code %d: severity = %s, want %s", tt.code, c.Severity, tt.severity)
		}
		if c.Category != tt.category {
			t.Errorf("code %d: category = %s, want %s", tt.code, c.Category, tt.category)
		}
		if c.Retryable != tt.retryable {
			t.Errorf("code %d: retryable = %v, want %v", tt.code, c.Retryable, tt.retryable)
		}
		if c.Message == "" {
			t.Errorf("code %d: expected a message", tt.code)
		}
	}
}
