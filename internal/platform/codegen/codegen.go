// Package codegen produces short human-facing identifiers, such as study
// codes and invoice numbers, and retries until one is unused.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
)

const (
	Uppercase    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits       = "0123456789"
	Alphanumeric = Uppercase + Digits
)

// DefaultMaxAttempts bounds how many candidates Unique draws.
const DefaultMaxAttempts = 16

// Generator draws Length characters from Alphabet after Prefix.
type Generator struct {
	Prefix      string
	Alphabet    string
	Length      int
	MaxAttempts int
}

var (
	StudyCode     = Generator{Alphabet: Alphanumeric, Length: 8, MaxAttempts: DefaultMaxAttempts}
	InvoiceNumber = Generator{Prefix: "INV", Alphabet: Digits, Length: 8, MaxAttempts: DefaultMaxAttempts}
)

// Next returns one random candidate.
func (g Generator) Next() (string, error) {
	if g.Length <= 0 || g.Alphabet == "" {
		return "", errors.New("codegen: generator needs an alphabet and a length")
	}
	max := big.NewInt(int64(len(g.Alphabet)))
	var b strings.Builder
	b.Grow(len(g.Prefix) + g.Length)
	b.WriteString(g.Prefix)
	for i := 0; i < g.Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("codegen: %w", err)
		}
		b.WriteByte(g.Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Valid reports whether code has the generator's shape.
func (g Generator) Valid(code string) bool {
	if !strings.HasPrefix(code, g.Prefix) {
		return false
	}
	body := code[len(g.Prefix):]
	if len(body) != g.Length {
		return false
	}
	for i := 0; i < len(body); i++ {
		if strings.IndexByte(g.Alphabet, body[i]) < 0 {
			return false
		}
	}
	return true
}

// Unique draws candidates until taken reports one as free. It fails with a
// Conflict once MaxAttempts candidates were all taken.
func (g Generator) Unique(ctx context.Context, taken func(ctx context.Context, code string) (bool, error)) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := g.Next()
		if err != nil {
			return "", err
		}
		used, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !used {
			return code, nil
		}
	}
	return "", apperror.Conflict("codegen", "no free code after %d attempts", attempts)
}
