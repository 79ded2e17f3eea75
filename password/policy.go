package password

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultMinLength is the minimum password length enforced by DefaultPolicy.
	DefaultMinLength = 12
	// DefaultProductName is the product name penalized by DefaultPolicy.
	DefaultProductName = "parscade"
	// MaxScore is the highest score an Assessment can carry.
	MaxScore = 5

	keyboardRunLength = 4
	repeatRunLength   = 3
	numericRunLength  = 3
	minEmailLocalPart = 3
)

// Feedback strings. The texts are stable and may be rendered as-is.
const (
	FeedbackTooShort      = "Password must be at least %d characters long"
	FeedbackNoUppercase   = "Add an uppercase letter"
	FeedbackNoLowercase   = "Add a lowercase letter"
	FeedbackNoDigit       = "Add a number"
	FeedbackNoSpecial     = "Add a special character"
	FeedbackRepeated      = "Avoid repeating the same character three or more times"
	FeedbackBlocklisted   = "Avoid common words and sequences like \"password\", \"123\" or \"qwerty\""
	FeedbackContainsEmail = "Password must not contain your email address"
)

var keyboardRows = []string{
	"qwertyuiop",
	"asdfghjkl",
	"zxcvbnm",
}

// Assessment is the result of scoring a candidate password.
//
// Score counts satisfied strength rules minus matched penalties, clamped to
// 0..MaxScore. Feedback lists every violation in rule order.
type Assessment struct {
	Score    int
	Feedback []string
	IsValid  bool
}

// Policy configures password assessment.
//
// The zero value is usable; MinLength <= 0 falls back to DefaultMinLength.
type Policy struct {
	MinLength   int
	ProductName string
	// Blocklist holds extra words matched case-insensitively as substrings.
	Blocklist []string
}

// DefaultPolicy returns the policy used by Assess.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:   DefaultMinLength,
		ProductName: DefaultProductName,
	}
}

// Assess scores password with DefaultPolicy.
func Assess(password, email string) Assessment {
	return DefaultPolicy().Assess(password, email)
}

// Assess scores password against the policy. email may be empty; when present
// its local part is checked against the password.
//
// Assess is pure and safe for concurrent use.
func (p Policy) Assess(password, email string) Assessment {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	var (
		feedback  []string
		positives int
		penalties int
	)

	classes := classify(password)
	rules := []struct {
		ok  bool
		msg string
	}{
		{len([]rune(password)) >= minLength, fmt.Sprintf(FeedbackTooShort, minLength)},
		{classes.upper, FeedbackNoUppercase},
		{classes.lower, FeedbackNoLowercase},
		{classes.digit, FeedbackNoDigit},
		{classes.special, FeedbackNoSpecial},
	}
	for _, rule := range rules {
		if rule.ok {
			positives++
			continue
		}
		feedback = append(feedback, rule.msg)
	}

	lowered := strings.ToLower(password)
	if hasRepeatedRun(lowered, repeatRunLength) {
		penalties++
		feedback = append(feedback, FeedbackRepeated)
	}
	if p.matchesBlocklist(lowered) {
		penalties++
		feedback = append(feedback, FeedbackBlocklisted)
	}
	if containsEmailLocalPart(lowered, email) {
		penalties++
		feedback = append(feedback, FeedbackContainsEmail)
	}

	score := positives - penalties
	if score < 0 {
		score = 0
	}

	return Assessment{
		Score:    score,
		Feedback: feedback,
		IsValid:  positives == len(rules) && penalties == 0,
	}
}

type charClasses struct {
	upper, lower, digit, special bool
}

func classify(password string) charClasses {
	var c charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case unicode.IsSpace(r):
		default:
			c.special = true
		}
	}
	return c
}

func hasRepeatedRun(s string, n int) bool {
	run := 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func (p Policy) matchesBlocklist(lowered string) bool {
	words := []string{"password", "admin"}
	product := p.ProductName
	if product == "" {
		product = DefaultProductName
	}
	words = append(words, strings.ToLower(product))
	for _, w := range p.Blocklist {
		if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
			words = append(words, w)
		}
	}
	for _, w := range words {
		if strings.Contains(lowered, w) {
			return true
		}
	}

	return hasNumericRun(lowered, numericRunLength) || hasKeyboardRun(lowered, keyboardRunLength)
}

func hasNumericRun(s string, n int) bool {
	asc, desc := 1, 1
	for i := 1; i < len(s); i++ {
		cur, prev := s[i], s[i-1]
		if !isDigit(cur) || !isDigit(prev) {
			asc, desc = 1, 1
			continue
		}
		switch {
		case cur == prev+1:
			asc++
			desc = 1
		case cur+1 == prev:
			desc++
			asc = 1
		default:
			asc, desc = 1, 1
		}
		if asc >= n || desc >= n {
			return true
		}
	}
	return false
}

func hasKeyboardRun(s string, n int) bool {
	for _, row := range keyboardRows {
		reversed := reverse(row)
		for i := 0; i+n <= len(row); i++ {
			if strings.Contains(s, row[i:i+n]) || strings.Contains(s, reversed[i:i+n]) {
				return true
			}
		}
	}
	return false
}

func containsEmailLocalPart(lowered, email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	local, _, _ := strings.Cut(email, "@")
	if len(local) < minEmailLocalPart {
		return false
	}
	return strings.Contains(lowered, local)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
