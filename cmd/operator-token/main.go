// Command operator-token mints a bearer token for the operator routes using
// the same RS256 key pair as the API.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/domain"
	jwtinfra "github.com/go-mail-verifier/internal/infrastructure/jwt"
	"github.com/joho/godotenv"
)

type signer interface {
	Sign(subject, role string) (string, error)
}

func main() {
	subject := flag.String("subject", "", "operator identity written to the sub claim")
	role := flag.String("role", domain.RoleOperator, "operator or admin")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	p, err := jwtinfra.NewProvider(config.Load())
	if err != nil {
		log.Fatalf("JWT provider: %v", err)
	}
	tok, err := mint(p, *subject, *role)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Fprintln(os.Stdout, tok)
}

func mint(s signer, subject, role string) (string, error) {
	if subject == "" {
		return "", errors.New("-subject is required")
	}
	if !slices.Contains([]string{domain.RoleOperator, domain.RoleAdmin}, role) {
		return "", fmt.Errorf("role %q must be %s or %s", role, domain.RoleOperator, domain.RoleAdmin)
	}
	return s.Sign(subject, role)
}
