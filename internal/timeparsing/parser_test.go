package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "+6h", want: time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)},
		{input: "-1d", want: time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)},
		{input: "-2w", want: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{input: "3m", want: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)},
		{input: "1y", want: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)},
		{input: "6h+", wantErr: true},
		{input: "++1d", wantErr: true},
		{input: "1x", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseCompactDuration(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCompactDuration(%q) error = %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLayered(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	got, err := Parse("-1d", now)
	if err != nil || got.Day() != 14 {
		t.Errorf("Parse(-1d) = %v, %v", got, err)
	}

	got, err = Parse("2025-01-10", now)
	if err != nil || got.Day() != 10 || got.Month() != time.January {
		t.Errorf("Parse(date) = %v, %v", got, err)
	}

	got, err = Parse("2025-01-10T08:30:00Z", now)
	if err != nil || got.Hour() != 8 {
		t.Errorf("Parse(rfc3339) = %v, %v", got, err)
	}

	got, err = Parse("yesterday", now)
	if err != nil || got.Day() != 14 {
		t.Errorf("Parse(yesterday) = %v, %v", got, err)
	}

	if _, err := Parse("complete gibberish &&&", now); err == nil {
		t.Error("Parse(gibberish) succeeded, want error")
	}
}
