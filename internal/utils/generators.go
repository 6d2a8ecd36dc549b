package utils

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
)

// GenerateUUID creates a random UUID v4
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateBookingID returns a prefixed booking reference.
func GenerateBookingID() string {
	return "bk_" + shortuuid.New()
}

// GenerateVerificationCode returns a 12 character upper-case code that staff
// can read out at the door.
func GenerateVerificationCode() string {
	code := strings.ToUpper(shortuuid.New())
	if len(code) > 12 {
		code = code[:12]
	}
	return code
}
