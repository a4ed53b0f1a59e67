package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   bool
	}{
		{"valid session ID", "session_0f3a9c", false},
		{"valid with dash", "abc-123", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "session 123", true},
		{"invalid chars 2", "session@123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.sessionID)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}

func TestValidateBrush(t *testing.T) {
	tests := []struct {
		name    string
		color   string
		size    float64
		wantErr bool
	}{
		{"valid", "#000000", 5, false},
		{"named color", "red", 0.5, false},
		{"max size", "#fff", MaxBrushSize, false},
		{"empty color", "", 5, true},
		{"blank color", "   ", 5, true},
		{"long color", strings.Repeat("f", 33), 5, true},
		{"zero size", "#000", 0, true},
		{"negative size", "#000", -1, true},
		{"huge size", "#000", MaxBrushSize + 1, true},
		{"nan size", "#000", math.NaN(), true},
		{"inf size", "#000", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBrush(tt.color, tt.size)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid https", "https://example.com", false},
		{"valid ws", "ws://example.com", false},
		{"valid wss", "wss://example.com", false},
		{"empty", "", true},
		{"invalid scheme", "ftp://example.com", true},
		{"no host", "http://", true},
		{"invalid format", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}
