package otp

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/models"
)

// fakeScheduler runs tasks only when the test advances its clock.
type fakeScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*fakeTask
}

type fakeTask struct {
	seq       int
	every     time.Duration
	due       time.Duration
	fn        func()
	repeat    bool
	cancelled bool
}

func (s *fakeScheduler) add(d time.Duration, fn func(), repeat bool) Cancel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &fakeTask{seq: s.seq, every: d, due: s.now + d, fn: fn, repeat: repeat}
	s.tasks = append(s.tasks, t)
	return func() {
		s.mu.Lock()
		t.cancelled = true
		s.mu.Unlock()
	}
}

func (s *fakeScheduler) Every(d time.Duration, fn func()) Cancel { return s.add(d, fn, true) }
func (s *fakeScheduler) After(d time.Duration, fn func()) Cancel { return s.add(d, fn, false) }

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *fakeTask
		for _, t := range s.tasks {
			if t.cancelled || t.due > target {
				continue
			}
			if next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.due
		if next.repeat {
			next.due += next.every
		} else {
			next.cancelled = true
		}
		fn := next.fn
		s.mu.Unlock()

		fn()
	}
}

func (s *fakeScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type fakeBackend struct {
	mu          sync.Mutex
	verifyCalls []string
	sendCalls   int
	result      *models.VerifyResult
	verifyErr   error
	sendErr     error
	onVerify    func()
	onSend      func()
}

func (b *fakeBackend) SendCode(ctx context.Context, c models.Contact) (string, error) {
	b.mu.Lock()
	b.sendCalls++
	err, hook := b.sendErr, b.onSend
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return "sent", err
}

func (b *fakeBackend) VerifyCode(ctx context.Context, c models.Contact, code string) (*models.VerifyResult, error) {
	b.mu.Lock()
	b.verifyCalls = append(b.verifyCalls, code)
	res, err, hook := b.result, b.verifyErr, b.onVerify
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return res, err
}

type fakeNav struct {
	profile   []models.Contact
	dashboard int
	back      []string
	token     string
}

func (n *fakeNav) ToProfileCompletion(c models.Contact, token string) {
	n.profile = append(n.profile, c)
	n.token = token
}
func (n *fakeNav) ToDashboard(*models.User)          { n.dashboard++ }
func (n *fakeNav) BackToContactEntry(reason string) { n.back = append(n.back, reason) }

type fakeTokens struct {
	saved []models.Session
	err   error
}

func (f *fakeTokens) Save(ctx context.Context, s models.Session) error {
	f.saved = append(f.saved, s)
	return f.err
}

type userMsgErr struct{ msg string }

func (e *userMsgErr) Error() string       { return "api error: " + e.msg }
func (e *userMsgErr) UserMessage() string { return e.msg }

type harness struct {
	ctrl    *Controller
	sched   *fakeScheduler
	backend *fakeBackend
	nav     *fakeNav
	tokens  *fakeTokens
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		sched:   &fakeScheduler{},
		backend: &fakeBackend{result: &models.VerifyResult{Success: true, Token: "tok", User: &models.User{ID: "u1"}}},
		nav:     &fakeNav{},
		tokens:  &fakeTokens{},
	}
	contact := models.Contact{Value: "9876543210", Channel: models.ChannelWhatsApp}
	h.ctrl = NewController(contact, h.backend, h.nav, Options{
		Settings:  DefaultSettings(),
		Scheduler: h.sched,
		Tokens:    h.tokens,
		Logger:    logger,
	})
	h.ctrl.Mount(context.Background())
	t.Cleanup(h.ctrl.Unmount)
	return h
}

func (h *harness) typeCode(code string) {
	for i := 0; i < len(code); i++ {
		h.ctrl.Input(i, code[i:i+1])
	}
}

func TestInitialState(t *testing.T) {
	h := newHarness(t)
	s := h.ctrl.Snapshot()

	if s.State != Entering || s.Focus != 0 || s.ResendCooldown != 60 || s.ExpiresIn != 180 {
		t.Errorf("initial snapshot = %+v", s)
	}
	if s.CanResend || s.IsExpired || s.Filled() != "" {
		t.Errorf("initial flags = %+v", s)
	}
	if h.sched.active() != 2 {
		t.Errorf("active timers = %d, want 2", h.sched.active())
	}
}

func TestPasteAtFirstSlot(t *testing.T) {
	tests := []struct {
		paste     string
		want      [CodeLength]string
		wantFocus int
	}{
		{"123456", [CodeLength]string{"1", "2", "3", "4", "5", "6"}, 5},
		{"1234", [CodeLength]string{"1", "2", "3", "4", "", ""}, 4},
		{"12", [CodeLength]string{"1", "2", "", "", "", ""}, 2},
		{"12-34 56", [CodeLength]string{"1", "2", "3", "4", "5", "6"}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.paste, func(t *testing.T) {
			h := newHarness(t)
			h.ctrl.Input(3, "9")
			h.ctrl.Input(5, "9")

			h.ctrl.Input(0, tt.paste)
			s := h.ctrl.Snapshot()
			if s.Code != tt.want {
				t.Errorf("Code = %q, want %q", s.Code, tt.want)
			}
			if s.Focus != tt.wantFocus {
				t.Errorf("Focus = %d, want %d", s.Focus, tt.wantFocus)
			}
		})
	}
}

func TestPasteInsideCode(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input(2, "12")
	s := h.ctrl.Snapshot()
	if s.Code != [CodeLength]string{"", "", "1", "2", "", ""} || s.Focus != 4 {
		t.Errorf("after paste at 2: code %q focus %d", s.Code, s.Focus)
	}

	h.ctrl.Input(3, "98765")
	s = h.ctrl.Snapshot()
	if s.Code != [CodeLength]string{"", "", "1", "9", "8", "7"} || s.Focus != 5 {
		t.Errorf("after overflowing paste: code %q focus %d", s.Code, s.Focus)
	}
}

func TestPasteIgnored(t *testing.T) {
	h := newHarness(t)

	for _, text := range []string{"abc", "1234567", "--"} {
		h.ctrl.Input(0, text)
	}
	s := h.ctrl.Snapshot()
	if s.Filled() != "" || s.Focus != 0 {
		t.Errorf("ignored pastes changed state: %+v", s)
	}
}

func TestTypingAdvancesFocus(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < CodeLength-1; i++ {
		h.ctrl.Input(i, "7")
		if got := h.ctrl.Snapshot().Focus; got != i+1 {
			t.Fatalf("after typing at %d focus = %d, want %d", i, got, i+1)
		}
	}
	h.ctrl.Input(5, "7")
	if got := h.ctrl.Snapshot().Focus; got != 5 {
		t.Errorf("after typing at 5 focus = %d, want 5", got)
	}
}

func TestTypingRejectsNonDigits(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Input(0, "1")

	for _, ch := range []string{"a", " ", "", "٣"} {
		h.ctrl.Input(1, ch)
	}
	s := h.ctrl.Snapshot()
	if s.Code[1] != "" || s.Focus != 1 {
		t.Errorf("non-digit input changed slot 1: code %q focus %d", s.Code, s.Focus)
	}
}

func TestTypingClearsError(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Submit(context.Background()); !errors.Is(err, ErrCodeIncomplete) {
		t.Fatalf("Submit() error = %v, want ErrCodeIncomplete", err)
	}
	if h.ctrl.Snapshot().Error != msgIncomplete {
		t.Fatalf("Error = %q", h.ctrl.Snapshot().Error)
	}

	h.ctrl.Input(0, "4")
	if msg := h.ctrl.Snapshot().Error; msg != "" {
		t.Errorf("Error after typing = %q, want empty", msg)
	}
	if len(h.backend.verifyCalls) != 0 {
		t.Error("incomplete submit reached the backend")
	}
}

func TestBackspace(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Backspace(0)
	if got := h.ctrl.Snapshot().Focus; got != 0 {
		t.Errorf("backspace at 0 moved focus to %d", got)
	}

	h.ctrl.Input(0, "1")
	h.ctrl.Input(1, "2")
	h.ctrl.Backspace(2)
	s := h.ctrl.Snapshot()
	if s.Focus != 1 || s.Code[1] != "2" {
		t.Errorf("backspace on empty slot 2: focus %d code %q", s.Focus, s.Code)
	}

	h.ctrl.Backspace(1)
	s = h.ctrl.Snapshot()
	if s.Focus != 1 || s.Code[1] != "" {
		t.Errorf("backspace on filled slot 1: focus %d code %q", s.Focus, s.Code)
	}
}

func TestAutoSubmitAfterTyping(t *testing.T) {
	h := newHarness(t)
	h.typeCode("123456")

	if len(h.backend.verifyCalls) != 0 {
		t.Fatal("verified before the auto-submit delay")
	}
	h.sched.Advance(250 * time.Millisecond)
	h.sched.Advance(5 * time.Second)

	if len(h.backend.verifyCalls) != 1 || h.backend.verifyCalls[0] != "123456" {
		t.Fatalf("verify calls = %v, want exactly [123456]", h.backend.verifyCalls)
	}
}

func TestAutoSubmitAfterPasteOnce(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Input(0, "654321")
	h.ctrl.Input(5, "9")
	h.ctrl.Input(0, "111111")

	h.sched.Advance(time.Second)
	if len(h.backend.verifyCalls) != 1 {
		t.Fatalf("verify calls = %v, want one", h.backend.verifyCalls)
	}
	if h.backend.verifyCalls[0] != "111111" {
		t.Errorf("verified %q, want latest code", h.backend.verifyCalls[0])
	}
}

func TestExplicitSubmitCancelsPendingAutoSubmit(t *testing.T) {
	h := newHarness(t)
	h.typeCode("123456")

	if err := h.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.sched.Advance(time.Second)
	if len(h.backend.verifyCalls) != 1 {
		t.Errorf("verify calls = %d, want 1", len(h.backend.verifyCalls))
	}
}

func TestVerifiedExisting(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Input(0, "123456")
	h.sched.Advance(time.Second)

	if s := h.ctrl.Snapshot(); s.State != VerifiedExisting {
		t.Fatalf("State = %s, want verified_existing", s.State)
	}
	if h.nav.dashboard != 1 || len(h.nav.profile) != 0 {
		t.Errorf("navigation = %+v", h.nav)
	}
	if len(h.tokens.saved) != 1 || h.tokens.saved[0].Token != "tok" || h.tokens.saved[0].UserID != "u1" {
		t.Errorf("saved sessions = %+v", h.tokens.saved)
	}
	if h.sched.active() != 0 {
		t.Errorf("active timers after success = %d", h.sched.active())
	}
	h.ctrl.Input(0, "9")
	if s := h.ctrl.Snapshot(); s.Code[0] != "1" || s.State != VerifiedExisting {
		t.Errorf("input changed a verified session: %+v", s)
	}
}

func TestVerifiedNew(t *testing.T) {
	h := newHarness(t)
	h.backend.result = &models.VerifyResult{Success: true, IsNewUser: true, Token: "fresh"}
	h.typeCode("000000")

	if err := h.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if s := h.ctrl.Snapshot(); s.State != VerifiedNew {
		t.Fatalf("State = %s, want verified_new", s.State)
	}
	if len(h.nav.profile) != 1 || h.nav.profile[0].Value != "9876543210" || h.nav.token != "fresh" {
		t.Errorf("navigation = %+v", h.nav)
	}
}

func TestVerifyFailureReturnsToEntering(t *testing.T) {
	tests := []struct {
		name    string
		result  *models.VerifyResult
		err     error
		wantMsg string
	}{
		{"server rejection", &models.VerifyResult{Success: false, Message: "Invalid OTP"}, nil, "Invalid OTP"},
		{"rejection without message", &models.VerifyResult{Success: false}, nil, msgInvalid},
		{"structured error", nil, &userMsgErr{msg: "Required\nInvalid"}, "Required\nInvalid"},
		{"transport error", nil, errors.New("dial tcp: connection refused"), "dial tcp: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.result = tt.result
			h.backend.verifyErr = tt.err
			h.typeCode("123456")

			err := h.ctrl.Submit(context.Background())
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("Submit() error = %v, want ErrRejected", err)
			}
			s := h.ctrl.Snapshot()
			if s.State != Entering || s.Filled() != "" || s.Focus != 0 {
				t.Errorf("after failure: %+v", s)
			}
			if s.Error != tt.wantMsg {
				t.Errorf("Error = %q, want %q", s.Error, tt.wantMsg)
			}

			h.sched.Advance(time.Second)
			s = h.ctrl.Snapshot()
			if s.ResendCooldown != 59 || s.ExpiresIn != 179 {
				t.Errorf("timers stopped after failure: cooldown %d expiry %d", s.ResendCooldown, s.ExpiresIn)
			}
		})
	}
}

func TestResend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.Resend(ctx); !errors.Is(err, ErrResendUnavailable) {
		t.Fatalf("Resend() during cooldown error = %v", err)
	}

	h.sched.Advance(59 * time.Second)
	if s := h.ctrl.Snapshot(); s.CanResend || s.ResendCooldown != 1 {
		t.Fatalf("after 59s: %+v", s)
	}
	h.sched.Advance(time.Second)
	if s := h.ctrl.Snapshot(); !s.CanResend || s.ResendCooldown != 0 {
		t.Fatalf("after 60s: %+v", s)
	}
	if h.sched.active() != 1 {
		t.Errorf("active timers = %d, want only the expiry timer", h.sched.active())
	}

	h.ctrl.Input(0, "12")
	if err := h.ctrl.Resend(ctx); err != nil {
		t.Fatalf("Resend() error = %v", err)
	}
	s := h.ctrl.Snapshot()
	if s.ResendCooldown != 60 || s.ExpiresIn != 180 || s.Filled() != "" || s.Focus != 0 || s.CanResend {
		t.Errorf("after resend: %+v", s)
	}
	if h.backend.sendCalls != 1 {
		t.Errorf("send calls = %d, want 1", h.backend.sendCalls)
	}

	h.sched.Advance(time.Second)
	if s := h.ctrl.Snapshot(); s.ResendCooldown != 59 || s.ExpiresIn != 179 {
		t.Errorf("timers after resend: cooldown %d expiry %d", s.ResendCooldown, s.ExpiresIn)
	}
}

func TestResendBlocksEntryWhileSending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sched.Advance(60 * time.Second)

	var submitErr error
	h.backend.onSend = func() {
		h.ctrl.Input(0, "123456")
		submitErr = h.ctrl.Submit(ctx)
		h.sched.Advance(time.Second)
	}

	if err := h.ctrl.Resend(ctx); err != nil {
		t.Fatalf("Resend() error = %v", err)
	}
	if !errors.Is(submitErr, ErrBusy) {
		t.Errorf("Submit() during resend error = %v, want ErrBusy", submitErr)
	}
	if len(h.backend.verifyCalls) != 0 {
		t.Errorf("verify calls = %v, want none while resending", h.backend.verifyCalls)
	}

	s := h.ctrl.Snapshot()
	if s.State != Entering || s.ResendCooldown != 60 || s.ExpiresIn != 180 || s.Filled() != "" || s.Resending {
		t.Errorf("after resend: %+v", s)
	}
}

func TestResendCancelsPendingAutoSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sched.Advance(60 * time.Second)

	h.typeCode("123456")
	if err := h.ctrl.Resend(ctx); err != nil {
		t.Fatalf("Resend() error = %v", err)
	}
	h.sched.Advance(time.Second)

	if len(h.backend.verifyCalls) != 0 {
		t.Errorf("verify calls = %v, want the stale code dropped", h.backend.verifyCalls)
	}
	if s := h.ctrl.Snapshot(); s.State != Entering || s.ResendCooldown != 59 {
		t.Errorf("after resend: %+v", s)
	}
}

func TestResendFailureRearmsAutoSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sched.Advance(60 * time.Second)
	h.backend.sendErr = errors.New("network down")

	h.typeCode("123456")
	if err := h.ctrl.Resend(ctx); err == nil {
		t.Fatal("Resend() expected error")
	}
	h.sched.Advance(time.Second)

	if len(h.backend.verifyCalls) != 1 || h.backend.verifyCalls[0] != "123456" {
		t.Errorf("verify calls = %v, want the entered code submitted", h.backend.verifyCalls)
	}
}

func TestResendFailureKeepsTimers(t *testing.T) {
	h := newHarness(t)
	h.backend.sendErr = &userMsgErr{msg: "Too many requests"}
	h.sched.Advance(60 * time.Second)

	if err := h.ctrl.Resend(context.Background()); err == nil {
		t.Fatal("Resend() expected error")
	}
	s := h.ctrl.Snapshot()
	if s.Error != "Too many requests" || s.ExpiresIn != 120 || s.Resending {
		t.Errorf("after failed resend: %+v", s)
	}
}

func TestExpiryFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Input(0, "123")

	h.sched.Advance(179 * time.Second)
	if s := h.ctrl.Snapshot(); s.State != Entering || s.ExpiresIn != 1 {
		t.Fatalf("after 179s: %+v", s)
	}
	h.sched.Advance(time.Second)
	s := h.ctrl.Snapshot()
	if s.State != Expired || !s.IsExpired {
		t.Fatalf("after 180s: %+v", s)
	}
	if len(h.nav.back) != 1 {
		t.Fatalf("back navigations = %d, want 1", len(h.nav.back))
	}

	h.sched.Advance(time.Minute)
	h.ctrl.Input(3, "456")
	h.sched.Advance(time.Second)
	if len(h.nav.back) != 1 {
		t.Errorf("back navigations = %d after further time, want 1", len(h.nav.back))
	}
	if len(h.backend.verifyCalls) != 0 {
		t.Errorf("verify called after expiry: %v", h.backend.verifyCalls)
	}
	if got := h.ctrl.Snapshot().Filled(); got != "123" {
		t.Errorf("code changed after expiry: %q", got)
	}
	if err := h.ctrl.Submit(context.Background()); !errors.Is(err, ErrExpired) {
		t.Errorf("Submit() after expiry error = %v", err)
	}
	if h.sched.active() != 0 {
		t.Errorf("active timers after expiry = %d", h.sched.active())
	}
}

func TestExpiryDuringSubmission(t *testing.T) {
	h := newHarness(t)
	h.sched.Advance(179 * time.Second)
	h.backend.onVerify = func() { h.sched.Advance(time.Second) }
	h.typeCode("123456")

	err := h.ctrl.Submit(context.Background())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Submit() error = %v, want ErrExpired", err)
	}
	if s := h.ctrl.Snapshot(); s.State != Expired {
		t.Errorf("State = %s, want expired", s.State)
	}
	if h.nav.dashboard != 0 || len(h.nav.back) != 1 {
		t.Errorf("navigation = %+v", h.nav)
	}
}

func TestUnmountStopsTimers(t *testing.T) {
	h := newHarness(t)
	h.typeCode("123456")
	h.ctrl.Unmount()

	if h.sched.active() != 0 {
		t.Fatalf("active timers after unmount = %d", h.sched.active())
	}
	h.sched.Advance(5 * time.Minute)
	s := h.ctrl.Snapshot()
	if s.ExpiresIn != 180 || len(h.backend.verifyCalls) != 0 || len(h.nav.back) != 0 {
		t.Errorf("state moved after unmount: %+v", s)
	}
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	var got []Snapshot
	ctrl := NewController(
		models.Contact{Value: "a@b.com", Channel: models.ChannelEmail},
		&fakeBackend{},
		nil,
		Options{Scheduler: &fakeScheduler{}, OnChange: func(s Snapshot) { got = append(got, s) }},
	)
	ctrl.Mount(context.Background())
	ctrl.Input(0, "5")

	if len(got) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(got))
	}
	if got[1].Code[0] != "5" || got[1].Focus != 1 {
		t.Errorf("last snapshot = %+v", got[1])
	}
}
