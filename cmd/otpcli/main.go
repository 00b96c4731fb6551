package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/apiclient"
	"github.com/healthtrack/healthtrack/internal/config"
	"github.com/healthtrack/healthtrack/internal/models"
	"github.com/healthtrack/healthtrack/internal/otp"
	"github.com/healthtrack/healthtrack/internal/service"
)

var errQuit = errors.New("quit")

func main() {
	contactFlag := flag.String("contact", "", "phone number or email to sign in with")
	logout := flag.Bool("logout", false, "forget the stored session before signing in")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:    cfg,
		api:    apiclient.NewClient(&cfg.API, logger),
		lines:  readLines(os.Stdin),
		out:    os.Stdout,
		logger: logger,
	}
	a.sessions = openSessionStore(ctx, cfg, logger)
	if a.sessions != nil {
		a.tokens = a.sessions
	}

	if a.sessions != nil {
		if *logout {
			if err := a.sessions.Delete(ctx); err != nil {
				logger.WithError(err).Error("Failed to clear stored session")
			}
		} else if s, err := a.sessions.Get(ctx); err == nil {
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Already signed in as %s until %s",
				s.Contact.Masked(), s.ExpiresAt.Local().Format(time.RFC1123))))
			fmt.Fprintln(a.out, hintStyle.Render("Run with -logout to sign in again"))
			return
		}
	}

	if err := a.run(ctx, *contactFlag); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Sign-in failed")
	}
}

func openSessionStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *service.SessionStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unavailable, the session will not be stored")
		client.Close()
		return nil
	}
	return service.NewSessionStore(client, cfg.Device.ID, logger)
}

// readLines feeds stdin to a channel that is closed on EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

type app struct {
	cfg      *config.Config
	api      *apiclient.Client
	sessions *service.SessionStore
	tokens   otp.TokenSaver
	lines    <-chan string
	out      io.Writer
	logger   *logrus.Logger
}

func (a *app) prompt(ctx context.Context, label string) (string, error) {
	fmt.Fprint(a.out, hintStyle.Render(label))
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-a.lines:
		if !ok {
			return "", errQuit
		}
		return strings.TrimSpace(line), nil
	}
}

func (a *app) run(ctx context.Context, raw string) error {
	for {
		contact, err := a.askContact(ctx, raw)
		if err != nil {
			return err
		}
		raw = ""

		o, err := a.verify(ctx, contact)
		if err != nil {
			return err
		}

		switch o.kind {
		case outcomeBack:
			fmt.Fprintln(a.out, errorStyle.Render(o.reason))
		case outcomeProfile:
			return a.completeProfile(ctx, o.contact, o.token)
		case outcomeDashboard:
			name := "back"
			if o.user != nil && o.user.Name != "" {
				name = "back, " + o.user.Name
			}
			fmt.Fprintln(a.out, successStyle.Render("Welcome "+name))
			return nil
		}
	}
}

// askContact reads a phone number or email and requests a code for it.
func (a *app) askContact(ctx context.Context, raw string) (models.Contact, error) {
	for {
		if raw == "" {
			var err error
			if raw, err = a.prompt(ctx, "Mobile number or email: "); err != nil {
				return models.Contact{}, err
			}
		}

		contact, err := models.ParseContact(raw)
		raw = ""
		if err != nil {
			msg := "Enter a valid email address"
			if errors.Is(err, models.ErrInvalidPhone) {
				msg = "Enter a valid 10-digit mobile number"
			}
			fmt.Fprintln(a.out, errorStyle.Render(msg))
			continue
		}

		msg, err := a.api.SendCode(ctx, contact)
		if err != nil {
			a.logger.WithError(err).Debug("Failed to send code")
			fmt.Fprintln(a.out, errorStyle.Render(userMessage(err)))
			continue
		}
		if msg != "" {
			fmt.Fprintln(a.out, mutedStyle.Render(msg))
		}
		return contact, nil
	}
}

func (a *app) verify(ctx context.Context, contact models.Contact) (outcome, error) {
	nav := newTerminalNav()
	scr := &screen{out: a.out}

	ctrl := otp.NewController(contact, a.api, nav, otp.Options{
		Settings: otp.SettingsFromConfig(&a.cfg.OTP),
		Tokens:   a.tokens,
		Logger:   a.logger,
		OnChange: scr.render,
	})

	vctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctrl.Mount(vctx)
	defer ctrl.Unmount()
	fmt.Fprintln(a.out, hintStyle.Render(helpText))

	for {
		select {
		case o := <-nav.out:
			return o, nil
		case <-ctx.Done():
			return outcome{}, ctx.Err()
		case line, ok := <-a.lines:
			if !ok {
				return outcome{}, errQuit
			}
			cmd := parseCommand(line)
			switch cmd.kind {
			case cmdQuit:
				return outcome{}, errQuit
			case cmdHelp:
				fmt.Fprintln(a.out, hintStyle.Render(helpText))
			case cmdSubmit:
				if err := ctrl.Submit(vctx); err != nil {
					a.logger.WithError(err).Debug("Submission failed")
				}
			case cmdResend:
				if err := ctrl.Resend(vctx); err != nil {
					a.logger.WithError(err).Debug("Resend failed")
				}
			default:
				apply(ctrl, cmd)
			}
		}
	}
}

func (a *app) completeProfile(ctx context.Context, contact models.Contact, token string) error {
	fmt.Fprintln(a.out, titleStyle.Render("Complete your profile"))

	for {
		var p models.Profile
		var err error
		if p.Name, err = a.prompt(ctx, "Full name: "); err != nil {
			return err
		}
		if p.DateOfBirth, err = a.prompt(ctx, "Date of birth (YYYY-MM-DD): "); err != nil {
			return err
		}
		gender, err := a.prompt(ctx, "Gender (male/female/other): ")
		if err != nil {
			return err
		}
		p.Gender = strings.ToLower(gender)

		if contact.IsPhone() {
			if p.Email, err = a.prompt(ctx, "Email (optional): "); err != nil {
				return err
			}
		} else if p.Phone, err = a.prompt(ctx, "Mobile number (optional): "); err != nil {
			return err
		}

		res, err := a.api.CompleteProfile(ctx, p.WithContact(contact), token)
		if err != nil {
			var apiErr *apiclient.APIError
			if !errors.As(err, &apiErr) {
				return err
			}
			fmt.Fprintln(a.out, errorStyle.Render(apiErr.UserMessage()))
			continue
		}

		name := p.Name
		if res.User != nil && res.User.Name != "" {
			name = res.User.Name
		}
		fmt.Fprintln(a.out, successStyle.Render("Welcome, "+name))
		return nil
	}
}

func userMessage(err error) string {
	var m otp.UserMessager
	if errors.As(err, &m) {
		return m.UserMessage()
	}
	return "Something went wrong. Please try again."
}

type outcomeKind int

const (
	outcomeBack outcomeKind = iota
	outcomeProfile
	outcomeDashboard
)

type outcome struct {
	kind    outcomeKind
	contact models.Contact
	token   string
	user    *models.User
	reason  string
}

// terminalNav turns controller navigation into a single outcome.
type terminalNav struct {
	out chan outcome
}

func newTerminalNav() *terminalNav {
	return &terminalNav{out: make(chan outcome, 1)}
}

func (n *terminalNav) send(o outcome) {
	select {
	case n.out <- o:
	default:
	}
}

func (n *terminalNav) ToProfileCompletion(contact models.Contact, token string) {
	n.send(outcome{kind: outcomeProfile, contact: contact, token: token})
}

func (n *terminalNav) ToDashboard(user *models.User) {
	n.send(outcome{kind: outcomeDashboard, user: user})
}

func (n *terminalNav) BackToContactEntry(reason string) {
	n.send(outcome{kind: outcomeBack, reason: reason})
}

// screen redraws the verification view when it changes, and every half
// minute so the countdowns stay visible.
type screen struct {
	mu      sync.Mutex
	out     io.Writer
	lastKey string
}

func (s *screen) render(snap otp.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := screenKey(snap)
	periodic := snap.State == otp.Entering && snap.ExpiresIn > 0 && snap.ExpiresIn%30 == 0
	if key == s.lastKey && !periodic {
		return
	}
	s.lastKey = key
	fmt.Fprintln(s.out, renderVerification(snap))
	fmt.Fprintln(s.out)
}
