package otp

import "strings"

const CodeLength = 6

type slots [CodeLength]string

func isDigit(s string) bool {
	return len(s) == 1 && s[0] >= '0' && s[0] <= '9'
}

// typeDigit stores a single typed character. Anything other than one
// decimal digit is rejected without touching the slots.
func (s *slots) typeDigit(i int, ch string) (focus int, ok bool) {
	if !isDigit(ch) {
		return i, false
	}
	s[i] = ch
	if i < CodeLength-1 {
		return i + 1, true
	}
	return i, true
}

// paste spreads the digits of text over consecutive slots starting at i.
// A paste into the first slot replaces the whole code. Pastes with no
// digits or more digits than slots are ignored.
func (s *slots) paste(i int, text string) (focus int, ok bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if len(digits) < 1 || len(digits) > CodeLength {
		return i, false
	}

	if i == 0 {
		s.clear()
	}
	last := i - 1
	for j := 0; j < len(digits) && i+j < CodeLength; j++ {
		s[i+j] = digits[j : j+1]
		last = i + j
	}

	for k := last + 1; k < CodeLength; k++ {
		if s[k] == "" {
			return k, true
		}
	}
	return min(last+1, CodeLength-1), true
}

func (s *slots) clear() {
	for i := range s {
		s[i] = ""
	}
}

func (s *slots) complete() bool {
	for _, d := range s {
		if d == "" {
			return false
		}
	}
	return true
}

func (s *slots) String() string {
	return strings.Join(s[:], "")
}
