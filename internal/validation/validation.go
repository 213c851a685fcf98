// Package validation provides input validation for the Keyward API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// hexRegex validates hex strings (for signatures, etc)
	hexRegex = regexp.MustCompile(`^(0x)?[a-fA-F0-9]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidIdentity checks if a string is a well-formed public-key identity.
// Identities are Ethereum-style addresses (0x + 40 hex chars).
func IsValidIdentity(identity string) bool {
	return common.IsHexAddress(identity)
}

// IsValidHex checks if a string is valid hex
func IsValidHex(s string) bool {
	return hexRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// NormalizeIdentity lowercases and 0x-prefixes an identity string.
func NormalizeIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	identity = strings.ToLower(identity)
	if !strings.HasPrefix(identity, "0x") && len(identity) == 40 {
		identity = "0x" + identity
	}
	return identity
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Check is a single field validation.
type Check func() *ValidationError

// Validate runs checks and collects the failures.
func Validate(checks ...Check) ValidationErrors {
	var errs ValidationErrors
	for _, check := range checks {
		if err := check(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// ValidIdentity returns a check that the field is a well-formed identity.
func ValidIdentity(field, value string) Check {
	return func() *ValidationError {
		if !IsValidIdentity(value) {
			return &ValidationError{Field: field, Message: "must be a valid public-key identity (0x + 40 hex chars)"}
		}
		return nil
	}
}

// ValidHex returns a check that the field is a hex string, 0x prefix
// optional.
func ValidHex(field, value string) Check {
	return func() *ValidationError {
		if !IsValidHex(value) {
			return &ValidationError{Field: field, Message: "must be a hex string"}
		}
		return nil
	}
}

// NonEmpty returns a check that the field is not blank.
func NonEmpty(field, value string) Check {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "must not be empty"}
		}
		return nil
	}
}
