// Package validation checks user input before it leaves the client.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// MaxMessageLength matches the server-side cap on chat messages.
	MaxMessageLength = 8000

	MaxCommandLength = 1000
)

// ValidateMessage checks a chat message before submission. Content is
// assumed to be already trimmed.
func ValidateMessage(message string) error {
	if message == "" {
		return errors.New("message cannot be empty")
	}
	if len(message) > MaxMessageLength {
		return fmt.Errorf("message too long (max %d characters)", MaxMessageLength)
	}
	if strings.Contains(message, "\x00") {
		return errors.New("message contains null bytes")
	}
	return nil
}

// ValidateCommand checks a slash command line such as "/load 3".
func ValidateCommand(input string) error {
	if input == "" {
		return errors.New("command cannot be empty")
	}
	if len(input) > MaxCommandLength {
		return fmt.Errorf("command too long (max %d characters)", MaxCommandLength)
	}
	if !strings.HasPrefix(input, "/") {
		return errors.New("commands start with /")
	}
	return nil
}

// ValidateServerURL checks a configured server address.
func ValidateServerURL(raw string) error {
	if raw == "" {
		return errors.New("server URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server URL is missing a host")
	}
	return nil
}
