package models

import (
	"time"
)

type User struct {
	ID              string `json:"id"`
	Phone           string `json:"phone,omitempty"`
	Email           string `json:"email,omitempty"`
	Name            string `json:"name,omitempty"`
	ProfileComplete bool   `json:"profileComplete"`
}

// Profile holds the fields collected after a first sign-in.
type Profile struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth"`
	Gender      string `json:"gender"`
}

// Validate returns messages keyed by field, in the same shape the backend
// uses for its own validation errors. A nil map means the profile is valid.
func (p Profile) Validate() map[string][]string {
	errs := map[string][]string{}
	add := func(field, msg string) {
		errs[field] = append(errs[field], msg)
	}

	if len(p.Name) < 2 {
		add("name", "Name must be at least 2 characters")
	}
	if p.Email != "" && !IsValidEmail(p.Email) {
		add("email", "Email is invalid")
	}
	if p.Phone != "" && !IsValidPhone(p.Phone) {
		add("phone", "Phone number is invalid")
	}
	if p.DateOfBirth == "" {
		add("dateOfBirth", "Date of birth is required")
	} else if dob, err := time.Parse(DateLayout, p.DateOfBirth); err != nil {
		add("dateOfBirth", "Date of birth must be YYYY-MM-DD")
	} else if dob.After(time.Now()) {
		add("dateOfBirth", "Date of birth cannot be in the future")
	}
	switch p.Gender {
	case "male", "female", "other":
	default:
		add("gender", "Gender must be male, female or other")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// WithContact fills the contact the user signed in with.
func (p Profile) WithContact(c Contact) Profile {
	if c.IsPhone() {
		p.Phone = c.Value
	} else {
		p.Email = c.Value
	}
	return p
}
