package validation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxIDLength    = 100
	MaxColorLength = 32
	MaxBrushSize   = 200
)

// IDRegex validates session and user identifiers
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func ValidateSessionID(sessionID string) error {
	return validateID(sessionID, "session ID")
}

func ValidateUserID(userID string) error {
	return validateID(userID, "user ID")
}

func validateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, MaxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateBrush checks the style of a stroke. Coordinates are not checked.
func ValidateBrush(color string, size float64) error {
	if err := ValidateNonEmptyString(color, "color"); err != nil {
		return err
	}
	if err := ValidateStringLength(color, 1, MaxColorLength, "color"); err != nil {
		return err
	}
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return fmt.Errorf("size must be a finite number")
	}
	if size <= 0 {
		return fmt.Errorf("size must be positive")
	}
	if size > MaxBrushSize {
		return fmt.Errorf("size is too large (max %d)", MaxBrushSize)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
