// Package gate is the calculator lock in front of the chat and the identity
// picker behind it.
package gate

import (
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/vault"
	"context"

	"github.com/pkg/errors"
)

var ErrWrongCode = errors.New("wrong code")

// Verifier checks a candidate against a cached code.
type Verifier interface {
	Verify(ctx context.Context, key, candidate string) (bool, error)
}

type Gate struct {
	codes Verifier
}

func New(codes Verifier) *Gate {
	return &Gate{codes: codes}
}

// Unlock replays keys on a fresh calculator, presses "=" and compares the
// display with the calculator code.
func (g *Gate) Unlock(ctx context.Context, keys []string) (display string, unlocked bool, err error) {
	calc := NewCalculator()
	for _, k := range keys {
		if err := calc.Press(k); err != nil {
			return calc.Display(), false, err
		}
	}
	display = calc.Equals()

	ok, err := g.codes.Verify(ctx, vault.KeyCalculator, display)
	if err != nil {
		return display, false, err
	}
	return display, ok, nil
}

// SelectIdentity picks the chat identity. S needs no code; A needs the user-A code.
func (g *Gate) SelectIdentity(ctx context.Context, raw, code string) (models.Identity, error) {
	id, err := models.ParseIdentity(raw)
	if err != nil {
		return "", err
	}
	if id != models.IdentityA {
		return id, nil
	}

	ok, err := g.codes.Verify(ctx, vault.KeyUserA, code)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrWrongCode
	}
	return id, nil
}
