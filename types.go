package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/twofactor"
)

type (
	// CredentialStore is the external account repository.
	CredentialStore = credential.Store
	// EmailSender delivers verification, reset and welcome messages.
	EmailSender = notify.EmailSender
	// Recipient identifies the addressee of an email.
	Recipient = notify.Recipient
)

type (
	Session             = refresh.Session
	RevocationReason    = revocation.Reason
	RevokedEntry        = revocation.Entry
	TwoFactorEnrollment = twofactor.Enrollment
	TwoFactorStatus     = twofactor.Status
	TwoFactorMethod     = twofactor.Method
)

const (
	ReasonLogout            = revocation.ReasonLogout
	ReasonPasswordChange    = revocation.ReasonPasswordChange
	ReasonAdminRevoke       = revocation.ReasonAdminRevoke
	ReasonSecurityViolation = revocation.ReasonSecurityViolation
	ReasonLogoutAll         = revocation.ReasonLogoutAll
)

// RegisterInput is the input to Register. Role defaults to
// Config.Registration.DefaultRole.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// Account is the public view of a credential.
type Account struct {
	ID            int64
	Username      string
	Email         string
	Role          string
	EmailVerified bool
	CreatedAt     time.Time
}

func accountOf(c credential.Credential) *Account {
	return &Account{
		ID:            c.ID,
		Username:      c.Username,
		Email:         c.Email,
		Role:          c.Role,
		EmailVerified: c.EmailVerified,
		CreatedAt:     c.CreatedAt,
	}
}

// LoginInput is the input to Login. Identifier is a username or email.
// Empty DeviceInfo and IP fall back to the values attached with
// WithUserAgent and WithClientIP.
type LoginInput struct {
	Identifier    string
	Password      string
	TwoFactorCode string
	DeviceInfo    string
	IP            string
}

// TokenPair is an access token and the refresh token that renews it.
type TokenPair struct {
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	TokenPair
	UserID          int64
	Role            string
	TwoFactorMethod TwoFactorMethod
}

// Principal is the identity carried by a valid, unrevoked access token.
type Principal struct {
	UserID    int64
	Role      string
	JTI       string
	Attrs     map[string]string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevokedCounts reports how many tokens a bulk revocation touched.
type RevokedCounts struct {
	RefreshTokens int
	AccessTokens  int
}

// RevocationStats is a monitoring view of the access-token blacklist.
type RevocationStats struct {
	Since    time.Time
	ByReason map[RevocationReason]int64
	Active   int64
	Recent   []RevokedEntry
}
