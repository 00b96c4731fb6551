package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/healthtrack/healthtrack/internal/otp"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a"))

	slotStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#52525b")).
			Padding(0, 1)

	focusedSlotStyle = slotStyle.
				BorderForeground(lipgloss.Color("#3B82F6"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ade80"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))
)

// formatCountdown renders a tick count as m:ss.
func formatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func renderSlots(s otp.Snapshot) string {
	boxes := make([]string, 0, otp.CodeLength)
	for i, d := range s.Code {
		text := d
		if text == "" {
			text = " "
		}
		style := slotStyle
		if i == s.Focus && s.State == otp.Entering {
			style = focusedSlotStyle
		}
		boxes = append(boxes, style.Render(text))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func renderResend(s otp.Snapshot) string {
	switch {
	case s.Resending:
		return mutedStyle.Render("Sending a new code...")
	case s.CanResend:
		return hintStyle.Render("Didn't get it? Type r to resend")
	default:
		return mutedStyle.Render("Resend available in " + formatCountdown(s.ResendCooldown))
	}
}

// renderVerification draws the whole verification screen for a snapshot.
func renderVerification(s otp.Snapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Enter verification code"))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Sent via %s to %s", s.Contact.Channel, s.Contact.Masked())))
	b.WriteString("\n")
	b.WriteString(renderSlots(s))
	b.WriteString("\n")

	switch {
	case s.IsExpired:
		b.WriteString(errorStyle.Render("Code expired"))
	case s.State == otp.Submitting:
		b.WriteString(mutedStyle.Render("Verifying..."))
	case s.State == otp.VerifiedNew || s.State == otp.VerifiedExisting:
		b.WriteString(successStyle.Render("Verified"))
	default:
		b.WriteString(mutedStyle.Render("Code expires in " + formatCountdown(s.ExpiresIn)))
	}
	b.WriteString("\n")
	b.WriteString(renderResend(s))

	if s.Error != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(s.Error))
	}
	return b.String()
}

const helpText = "digits fill the focused slot, a longer number pastes, " +
	"- clears, @N focuses slot N, s submits, r resends, q quits"

// screenKey ignores the countdowns so the view is redrawn only when
// something the user acted on changes.
func screenKey(s otp.Snapshot) string {
	return fmt.Sprintf("%v|%v|%d|%v|%v|%s|%v", s.State, s.Code, s.Focus, s.CanResend, s.Resending, s.Error, s.IsExpired)
}
