package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/config"
	"github.com/healthtrack/healthtrack/internal/models"
)

// Backend issues and checks codes.
type Backend interface {
	SendCode(ctx context.Context, contact models.Contact) (string, error)
	VerifyCode(ctx context.Context, contact models.Contact, code string) (*models.VerifyResult, error)
}

// TokenSaver persists the session obtained on successful verification.
type TokenSaver interface {
	Save(ctx context.Context, session models.Session) error
}

// Navigator receives the screen transitions the controller decides on.
type Navigator interface {
	ToProfileCompletion(contact models.Contact, token string)
	ToDashboard(user *models.User)
	BackToContactEntry(reason string)
}

// UserMessager is implemented by errors carrying text meant for the user.
type UserMessager interface {
	UserMessage() string
}

type Settings struct {
	ResendCooldown  time.Duration
	Expiry          time.Duration
	AutoSubmitDelay time.Duration
	TickInterval    time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ResendCooldown:  60 * time.Second,
		Expiry:          180 * time.Second,
		AutoSubmitDelay: 250 * time.Millisecond,
		TickInterval:    time.Second,
	}
}

func SettingsFromConfig(cfg *config.OTPConfig) Settings {
	return Settings{
		ResendCooldown:  cfg.ResendCooldown,
		Expiry:          cfg.Expiry,
		AutoSubmitDelay: cfg.AutoSubmitDelay,
		TickInterval:    cfg.TickInterval,
	}
}

type Options struct {
	Settings  Settings
	Scheduler Scheduler
	Tokens    TokenSaver
	Logger    *logrus.Logger
	OnChange  func(Snapshot)
}

type Controller struct {
	contact  models.Contact
	backend  Backend
	nav      Navigator
	tokens   TokenSaver
	sched    Scheduler
	logger   *logrus.Logger
	onChange func(Snapshot)

	cooldownTicks int
	expiryTicks   int
	tick          time.Duration
	submitDelay   time.Duration

	mu        sync.Mutex
	ctx       context.Context
	mounted   bool
	state     State
	code      slots
	focus     int
	cooldown  int
	expiry    int
	resending bool
	errMsg    string

	stopCooldown   Cancel
	stopExpiry     Cancel
	stopAutoSubmit Cancel
}

func NewController(contact models.Contact, backend Backend, nav Navigator, opts Options) *Controller {
	s := opts.Settings
	if s.TickInterval <= 0 {
		s = DefaultSettings()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TimeScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	c := &Controller{
		contact:       contact,
		backend:       backend,
		nav:           nav,
		tokens:        opts.Tokens,
		sched:         opts.Scheduler,
		logger:        opts.Logger,
		onChange:      opts.OnChange,
		cooldownTicks: int(s.ResendCooldown / s.TickInterval),
		expiryTicks:   int(s.Expiry / s.TickInterval),
		tick:          s.TickInterval,
		submitDelay:   s.AutoSubmitDelay,
		ctx:           context.Background(),
		state:         Entering,
	}
	c.cooldown = c.cooldownTicks
	c.expiry = c.expiryTicks
	return c
}

// Mount starts both countdowns. The context is used for network calls the
// controller makes on its own, such as the automatic submission.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.ctx = ctx
	if c.cooldown > 0 {
		c.stopCooldown = c.sched.Every(c.tick, c.tickCooldown)
	}
	if c.expiry > 0 && !c.state.Terminal() {
		c.stopExpiry = c.sched.Every(c.tick, c.tickExpiry)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"contact": c.contact.Masked(),
		"channel": c.contact.Channel,
	}).Debug("Verification screen mounted")
	c.notify(snap)
}

// Unmount cancels every timer. Requests already in flight still complete
// and update the state, but no navigation happens afterwards.
func (c *Controller) Unmount() {
	c.mu.Lock()
	c.mounted = false
	c.stopTimersLocked()
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Input handles text entered into slot index. A single character is typed
// input; anything longer is treated as a paste. Input is ignored while a
// resend is in flight, since a successful resend clears the code.
func (c *Controller) Input(index int, text string) {
	c.mu.Lock()
	if c.state != Entering || c.resending || index < 0 || index >= CodeLength {
		c.mu.Unlock()
		return
	}

	var focus int
	var ok bool
	if len([]rune(text)) > 1 {
		focus, ok = c.code.paste(index, text)
	} else {
		focus, ok = c.code.typeDigit(index, text)
	}
	if !ok {
		c.mu.Unlock()
		return
	}

	c.focus = focus
	c.errMsg = ""
	if c.code.complete() && c.stopAutoSubmit == nil {
		c.stopAutoSubmit = c.sched.After(c.submitDelay, c.autoSubmit)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Backspace clears a filled slot, or moves focus back from an empty one.
func (c *Controller) Backspace(index int) {
	c.mu.Lock()
	if c.state != Entering || index < 0 || index >= CodeLength {
		c.mu.Unlock()
		return
	}

	if c.code[index] != "" {
		c.code[index] = ""
		c.focus = index
	} else if index > 0 {
		c.focus = index - 1
	} else {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Focus moves the cursor to a slot the user selected.
func (c *Controller) Focus(index int) {
	c.mu.Lock()
	if c.state != Entering || index < 0 || index >= CodeLength || c.focus == index {
		c.mu.Unlock()
		return
	}
	c.focus = index
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Submit verifies the entered code. It blocks until the backend answers.
func (c *Controller) Submit(ctx context.Context) error {
	return c.submit(ctx, false)
}

func (c *Controller) autoSubmit() {
	c.mu.Lock()
	c.stopAutoSubmit = nil
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.submit(ctx, true); err != nil && !errors.Is(err, ErrRejected) {
		c.logger.WithError(err).Debug("Automatic submission skipped")
	}
}

func (c *Controller) submit(ctx context.Context, auto bool) error {
	c.mu.Lock()
	if c.state != Entering {
		state := c.state
		c.mu.Unlock()
		if state == Expired {
			return ErrExpired
		}
		return ErrBusy
	}
	if c.resending {
		c.mu.Unlock()
		return ErrBusy
	}

	if !c.code.complete() || c.expiry == 0 {
		if auto {
			c.mu.Unlock()
			return nil
		}
		err := ErrCodeIncomplete
		c.errMsg = msgIncomplete
		if c.expiry == 0 {
			err = ErrExpired
			c.errMsg = msgExpired
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}

	if c.stopAutoSubmit != nil {
		c.stopAutoSubmit()
		c.stopAutoSubmit = nil
	}
	code := c.code.String()
	c.state = Submitting
	c.errMsg = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	log := c.logger.WithField("contact", c.contact.Masked())
	res, err := c.backend.VerifyCode(ctx, c.contact, code)

	c.mu.Lock()
	if c.state != Submitting {
		c.mu.Unlock()
		log.Info("Verification answered after the code expired")
		return ErrExpired
	}

	if err != nil || res == nil || !res.Success {
		msg := failureMessage(res, err)
		c.state = Entering
		c.code.clear()
		c.focus = 0
		c.errMsg = msg
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)

		log.WithError(err).Warn("Code verification failed")
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}

	if res.NeedsProfile() {
		c.state = VerifiedNew
	} else {
		c.state = VerifiedExisting
	}
	c.stopTimersLocked()
	mounted := c.mounted
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	log.WithField("state", snap.State).Info("Code verified")
	c.saveSession(ctx, res)

	if !mounted || c.nav == nil {
		return nil
	}
	if snap.State == VerifiedNew {
		c.nav.ToProfileCompletion(c.contact, res.Token)
	} else {
		c.nav.ToDashboard(res.User)
	}
	return nil
}

func (c *Controller) saveSession(ctx context.Context, res *models.VerifyResult) {
	if res.Token == "" || c.tokens == nil {
		return
	}
	session := models.Session{
		Token:     res.Token,
		Contact:   c.contact,
		CreatedAt: time.Now(),
	}
	if res.User != nil {
		session.UserID = res.User.ID
	}
	if err := c.tokens.Save(ctx, session); err != nil {
		c.logger.WithError(err).Error("Failed to persist session token")
	}
}

// Resend requests a fresh code once the cooldown has run out. On success
// both countdowns restart and the entered code is cleared.
func (c *Controller) Resend(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Entering {
		state := c.state
		c.mu.Unlock()
		if state == Expired {
			return ErrExpired
		}
		return ErrBusy
	}
	if c.cooldown > 0 || c.resending {
		c.mu.Unlock()
		return ErrResendUnavailable
	}
	c.resending = true
	if c.stopAutoSubmit != nil {
		c.stopAutoSubmit()
		c.stopAutoSubmit = nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	log := c.logger.WithField("contact", c.contact.Masked())
	_, err := c.backend.SendCode(ctx, c.contact)

	c.mu.Lock()
	c.resending = false
	if err != nil {
		c.errMsg = errorMessage(err)
		if c.mounted && c.state == Entering && c.code.complete() && c.stopAutoSubmit == nil {
			c.stopAutoSubmit = c.sched.After(c.submitDelay, c.autoSubmit)
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)

		log.WithError(err).Warn("Failed to resend code")
		return err
	}
	if c.state != Entering {
		state := c.state
		c.mu.Unlock()
		if state == Expired {
			return ErrExpired
		}
		return ErrBusy
	}

	c.cooldown = c.cooldownTicks
	c.expiry = c.expiryTicks
	c.code.clear()
	c.focus = 0
	c.errMsg = ""
	if c.mounted {
		if c.stopCooldown == nil && c.cooldown > 0 {
			c.stopCooldown = c.sched.Every(c.tick, c.tickCooldown)
		}
		if c.stopExpiry == nil && c.expiry > 0 {
			c.stopExpiry = c.sched.Every(c.tick, c.tickExpiry)
		}
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	log.Info("Verification code resent")
	return nil
}

func (c *Controller) tickCooldown() {
	c.mu.Lock()
	if c.cooldown > 0 {
		c.cooldown--
	}
	if c.cooldown == 0 && c.stopCooldown != nil {
		c.stopCooldown()
		c.stopCooldown = nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Controller) tickExpiry() {
	c.mu.Lock()
	if c.expiry > 0 {
		c.expiry--
	}
	if c.expiry > 0 || c.state.Terminal() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}

	c.state = Expired
	c.errMsg = msgExpired
	c.stopTimersLocked()
	mounted := c.mounted
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.WithField("contact", c.contact.Masked()).Info("Verification code expired")
	c.notify(snap)
	if mounted && c.nav != nil {
		c.nav.BackToContactEntry(msgExpired)
	}
}

func (c *Controller) stopTimersLocked() {
	for _, stop := range []*Cancel{&c.stopCooldown, &c.stopExpiry, &c.stopAutoSubmit} {
		if *stop != nil {
			(*stop)()
			*stop = nil
		}
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:          c.state,
		Contact:        c.contact,
		Code:           c.code,
		Focus:          c.focus,
		ResendCooldown: c.cooldown,
		ExpiresIn:      c.expiry,
		CanResend:      c.cooldown == 0,
		IsExpired:      c.expiry == 0,
		Resending:      c.resending,
		Error:          c.errMsg,
	}
}

func (c *Controller) notify(s Snapshot) {
	if c.onChange != nil {
		c.onChange(s)
	}
}

func failureMessage(res *models.VerifyResult, err error) string {
	if err != nil {
		return errorMessage(err)
	}
	if res != nil && res.Message != "" {
		return res.Message
	}
	return msgInvalid
}

func errorMessage(err error) string {
	var um UserMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgGeneric
}
