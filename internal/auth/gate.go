package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
)

const bearerPrefix = "Bearer "

// Failure identifies the gate step that rejected a request.
type Failure string

const (
	FailureMissingToken    Failure = "missing_token"
	FailureMalformedToken  Failure = "malformed_token"
	FailureExpiredToken    Failure = "expired_token"
	FailureSubjectNotFound Failure = "subject_not_found"
	FailureSubjectMismatch Failure = "subject_mismatch"
	FailureAccountDisabled Failure = "account_disabled"
	FailureStore           Failure = "store_fault"
)

// OutcomeAuthenticated is reported to the observer when a request passes the gate.
const OutcomeAuthenticated = "authenticated"

const (
	MessageMissingToken   = "Missing jwt Token..."
	MessageMalformedToken = "Invalid jwt Token..."
	MessageExpiredToken   = "Jwt Token expired..."
)

// GateError is a rejection produced by the gate, carrying the response status.
type GateError struct {
	Failure Failure
	Status  int
	Message string
	Err     error
}

func (e *GateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// IsServerFault reports whether the failure indicates a broken invariant rather than client misuse.
func (e *GateError) IsServerFault() bool {
	return e.Status >= http.StatusInternalServerError
}

// AccountFinder resolves token subjects to accounts.
type AccountFinder interface {
	FindByUsername(ctx context.Context, username string) (*domain.Account, error)
}

// GateObserver receives one outcome per evaluated request.
type GateObserver interface {
	GateOutcome(outcome string)
}

// Gate is the per-request authentication check. It never mutates accounts or tokens.
type Gate struct {
	codec    *TokenCodec
	accounts AccountFinder
	logger   *logrus.Logger
	observer GateObserver
}

func NewGate(codec *TokenCodec, accounts AccountFinder, logger *logrus.Logger, observer GateObserver) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{
		codec:    codec,
		accounts: accounts,
		logger:   logger,
		observer: observer,
	}
}

// Authenticate validates the Authorization header value and resolves the principal.
func (g *Gate) Authenticate(ctx context.Context, authorization string, now time.Time) (*domain.Principal, error) {
	principal, err := g.authenticate(ctx, authorization, now)
	if g.observer != nil {
		var gateErr *GateError
		if errors.As(err, &gateErr) {
			g.observer.GateOutcome(string(gateErr.Failure))
		} else if err == nil {
			g.observer.GateOutcome(OutcomeAuthenticated)
		}
	}
	return principal, err
}

func (g *Gate) authenticate(ctx context.Context, authorization string, now time.Time) (*domain.Principal, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, &GateError{Failure: FailureMissingToken, Status: http.StatusUnauthorized, Message: MessageMissingToken}
	}

	expired, err := g.codec.IsExpired(token, now)
	if err != nil {
		return nil, &GateError{Failure: FailureMalformedToken, Status: http.StatusUnauthorized, Message: MessageMalformedToken, Err: err}
	}
	if expired {
		return nil, &GateError{Failure: FailureExpiredToken, Status: http.StatusUnauthorized, Message: MessageExpiredToken}
	}

	subject, err := g.codec.ExtractSubject(token)
	if err != nil {
		return nil, &GateError{Failure: FailureMalformedToken, Status: http.StatusUnauthorized, Message: MessageMalformedToken, Err: err}
	}

	account, err := g.accounts.FindByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			g.logger.WithField("subject", subject).Error("signed token subject does not resolve to an account")
			return nil, &GateError{
				Failure: FailureSubjectNotFound,
				Status:  http.StatusInternalServerError,
				Message: "Token subject could not be resolved",
				Err:     err,
			}
		}
		g.logger.WithError(err).Error("load account for token subject")
		return nil, &GateError{Failure: FailureStore, Status: http.StatusInternalServerError, Message: "Account lookup failed", Err: err}
	}

	matches, err := g.codec.SubjectMatches(token, account)
	if err != nil || !matches {
		g.logger.WithFields(logrus.Fields{
			"subject":    subject,
			"account_id": account.ID,
		}).Error("token subject does not match resolved account, check signing key")
		return nil, &GateError{
			Failure: FailureSubjectMismatch,
			Status:  http.StatusInternalServerError,
			Message: "Token subject does not match account",
			Err:     err,
		}
	}

	if !account.Enabled {
		return nil, &GateError{
			Failure: FailureAccountDisabled,
			Status:  http.StatusForbidden,
			Message: fmt.Sprintf("Account %s is disabled", account.ID),
		}
	}

	return domain.NewPrincipal(account), nil
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

type principalKey struct{}

// WithPrincipal returns a child context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal, nil when absent.
func PrincipalFromContext(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalKey{}).(*domain.Principal)
	return p
}
