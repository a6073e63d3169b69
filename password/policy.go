package password

import (
	"unicode"

	"github.com/MrEthical07/authcore/autherr"
)

// Policy describes the strength rules applied to new passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy requires 8 to 128 characters with all four character classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Check returns an *autherr.ValidationError naming the first violated rule.
func (p Policy) Check(password string) error {
	n := len([]rune(password))
	if n < p.MinLength {
		return autherr.Invalid("password", "too short")
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return autherr.Invalid("password", "too long")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	switch {
	case p.RequireUpper && !upper:
		return autherr.Invalid("password", "must contain an uppercase letter")
	case p.RequireLower && !lower:
		return autherr.Invalid("password", "must contain a lowercase letter")
	case p.RequireDigit && !digit:
		return autherr.Invalid("password", "must contain a digit")
	case p.RequireSpecial && !special:
		return autherr.Invalid("password", "must contain a special character")
	}
	return nil
}
