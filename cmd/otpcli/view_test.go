package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/healthtrack/healthtrack/internal/models"
	"github.com/healthtrack/healthtrack/internal/otp"
)

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{180, "3:00"},
		{59, "0:59"},
		{0, "0:00"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := formatCountdown(tt.seconds); got != tt.want {
			t.Errorf("formatCountdown(%d) = %s, want %s", tt.seconds, got, tt.want)
		}
	}
}

func snapshot() otp.Snapshot {
	return otp.Snapshot{
		State:          otp.Entering,
		Contact:        models.Contact{Value: "a@b.com", Channel: models.ChannelEmail},
		Code:           [otp.CodeLength]string{"1", "2", "", "", "", ""},
		Focus:          2,
		ResendCooldown: 42,
		ExpiresIn:      150,
	}
}

func TestRenderVerification(t *testing.T) {
	s := snapshot()
	out := renderVerification(s)
	for _, want := range []string{"Enter verification code", "2:30", "0:42", "1", "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}

	s.CanResend = true
	s.Error = "Invalid OTP"
	out = renderVerification(s)
	if !strings.Contains(out, "resend") || !strings.Contains(out, "Invalid OTP") {
		t.Errorf("view = \n%s", out)
	}

	s.IsExpired = true
	s.State = otp.Expired
	if out := renderVerification(s); !strings.Contains(out, "Code expired") {
		t.Errorf("expired view = \n%s", out)
	}
}

func TestScreenSkipsCountdownOnlyChanges(t *testing.T) {
	var buf bytes.Buffer
	scr := &screen{out: &buf}

	s := snapshot()
	scr.render(s)
	first := buf.Len()
	if first == 0 {
		t.Fatal("first render wrote nothing")
	}

	s.ExpiresIn = 149
	s.ResendCooldown = 41
	scr.render(s)
	if buf.Len() != first {
		t.Error("countdown tick redrew the screen")
	}

	s.Code[2] = "3"
	scr.render(s)
	if buf.Len() == first {
		t.Error("code change did not redraw the screen")
	}
}
