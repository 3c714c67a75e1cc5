package http

import (
	"github.com/go-mail-verifier/internal/application/verification"
	"github.com/go-mail-verifier/internal/transport/http/handler"
	"github.com/go-mail-verifier/internal/transport/http/middleware"
)

// Deps holds the application services the router exposes.
type Deps struct {
	Verification verification.Service
	Bounces      handler.BounceIntake
	Sweeper      handler.Sweeper
	// Scanner is nil when no bounce mailbox is configured.
	Scanner handler.Scanner
	// TokenVerifier is nil when no JWT key pair is configured; operator
	// routes then answer 503.
	TokenVerifier middleware.TokenVerifier
}
