package main

import (
	"strconv"
	"strings"

	"github.com/healthtrack/healthtrack/internal/otp"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdDigits
	cmdClear
	cmdFocus
	cmdSubmit
	cmdResend
	cmdQuit
	cmdHelp
)

type command struct {
	kind  commandKind
	text  string
	index int
}

// parseCommand maps one line typed on the verification screen to an action.
// Slot numbers are 1-based for the user and 0-based in the command.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return command{kind: cmdNone}
	case "s", "submit":
		return command{kind: cmdSubmit}
	case "r", "resend":
		return command{kind: cmdResend}
	case "q", "quit", "exit":
		return command{kind: cmdQuit}
	case "-", "<":
		return command{kind: cmdClear}
	case "?", "h", "help":
		return command{kind: cmdHelp}
	}

	if strings.HasPrefix(line, "@") {
		n, err := strconv.Atoi(line[1:])
		if err != nil || n < 1 || n > otp.CodeLength {
			return command{kind: cmdHelp}
		}
		return command{kind: cmdFocus, index: n - 1}
	}

	return command{kind: cmdDigits, text: line}
}

// apply runs a command against the controller. Multi-digit text is pasted
// at the focused slot, or at the first slot when it carries a full code.
func apply(c *otp.Controller, cmd command) {
	snap := c.Snapshot()
	switch cmd.kind {
	case cmdDigits:
		index := snap.Focus
		if countDigits(cmd.text) >= otp.CodeLength {
			index = 0
		}
		c.Input(index, cmd.text)
	case cmdClear:
		c.Backspace(snap.Focus)
	case cmdFocus:
		c.Focus(cmd.index)
	}
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
