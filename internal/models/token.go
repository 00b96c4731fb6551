package models

import "time"

// Session is the authenticated session persisted after a successful
// verification.
type Session struct {
	Token     string    `json:"token"`
	Contact   Contact   `json:"contact"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyResult is the backend's answer to a code verification.
type VerifyResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	IsNewUser         bool   `json:"isNewUser"`
	ProfileIncomplete bool   `json:"profileIncomplete"`
	Token             string `json:"token,omitempty"`
	User              *User  `json:"user,omitempty"`
}

// NeedsProfile reports whether the user must complete a profile before
// reaching the dashboard.
func (v VerifyResult) NeedsProfile() bool {
	return v.IsNewUser || v.ProfileIncomplete
}
