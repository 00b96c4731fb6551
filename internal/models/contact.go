package models

import (
	"errors"
	"regexp"
	"strings"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

var (
	ErrInvalidPhone = errors.New("please enter a valid 10-digit mobile number")
	ErrInvalidEmail = errors.New("please enter a valid email address")
)

var (
	phonePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	digitsOnly   = regexp.MustCompile(`^[0-9]+$`)
)

// Contact is the address a code is delivered to.
type Contact struct {
	Value   string  `json:"value"`
	Channel Channel `json:"channel"`
}

// ParseContact detects the channel from raw input and validates it.
// Input made only of digits is treated as a phone number.
func ParseContact(raw string) (Contact, error) {
	value := strings.TrimSpace(raw)
	if digitsOnly.MatchString(value) {
		if !IsValidPhone(value) {
			return Contact{}, ErrInvalidPhone
		}
		return Contact{Value: value, Channel: ChannelWhatsApp}, nil
	}

	value = strings.ToLower(value)
	if !IsValidEmail(value) {
		return Contact{}, ErrInvalidEmail
	}
	return Contact{Value: value, Channel: ChannelEmail}, nil
}

func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func (c Contact) IsPhone() bool {
	return c.Channel == ChannelWhatsApp
}

// Masked hides the middle of the contact for display and logs.
func (c Contact) Masked() string {
	if c.IsPhone() {
		if len(c.Value) < 4 {
			return c.Value
		}
		return strings.Repeat("*", len(c.Value)-4) + c.Value[len(c.Value)-4:]
	}

	at := strings.IndexByte(c.Value, '@')
	if at <= 1 {
		return c.Value
	}
	return c.Value[:1] + strings.Repeat("*", at-1) + c.Value[at:]
}
