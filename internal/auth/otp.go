package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

const (
	// MaxOTPAttempts is the number of wrong codes tolerated per challenge.
	MaxOTPAttempts = 5
	// DefaultOTPTTL is how long a code stays valid.
	DefaultOTPTTL = 5 * time.Minute

	otpDigits = 6
)

// ChallengeStore persists pending codes.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, c models.OTPChallenge) error
	FindChallenge(ctx context.Context, phone string) (*models.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, phone string) error
	DeleteChallenge(ctx context.Context, phone string) error
}

// Sender delivers a code to a phone.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log. Meant for development and the simulator.
type LogSender struct{}

// SendOTP logs the code.
func (LogSender) SendOTP(ctx context.Context, phone, code string) error {
	log.WithFields(log.Fields{"phone": phone, "code": code}).Info("OTP issued")
	return nil
}

// OTPService runs the request/verify flow of phone login.
type OTPService struct {
	store  ChallengeStore
	sender Sender
	ttl    time.Duration
	now    func() time.Time
}

// NewOTPService creates an OTP service. A zero ttl uses DefaultOTPTTL.
func NewOTPService(store ChallengeStore, sender Sender, ttl time.Duration) *OTPService {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	return &OTPService{store: store, sender: sender, ttl: ttl, now: time.Now}
}

// Request issues a fresh code for phone, replacing any pending one.
func (s *OTPService) Request(ctx context.Context, phone string) error {
	code, err := GenerateOTP()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.now()
	challenge := models.OTPChallenge{
		Phone:     phone,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.SaveChallenge(ctx, challenge); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return s.sender.SendOTP(ctx, phone, code)
}

// Verify checks code against the pending challenge. A correct code consumes the challenge.
func (s *OTPService) Verify(ctx context.Context, phone, code string) error {
	challenge, err := s.store.FindChallenge(ctx, phone)
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		return ErrInvalidCode
	}
	if s.now().After(challenge.ExpiresAt) {
		return ErrCodeExpired
	}
	if challenge.Attempts >= MaxOTPAttempts {
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
		if err := s.store.IncrementAttempts(ctx, phone); err != nil {
			log.WithError(err).WithField("phone", phone).Warn("Failed to count OTP attempt")
		}
		return ErrInvalidCode
	}

	if err := s.store.DeleteChallenge(ctx, phone); err != nil {
		log.WithError(err).WithField("phone", phone).Warn("Failed to remove used OTP challenge")
	}
	return nil
}

// GenerateOTP returns a random six-digit code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
