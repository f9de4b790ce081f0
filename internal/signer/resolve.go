package signer

import (
	"context"

	xerrors "contract-deployer/internal/errors"
)

// Candidate lazily yields a signer. A nil signer with a nil error means the
// candidate is absent.
type Candidate func(ctx context.Context) (*Signer, error)

// Explicit wraps an optional, already known signer.
func Explicit(s *Signer) Candidate {
	return func(context.Context) (*Signer, error) { return s, nil }
}

// DefaultOf yields the provider's default signer. The provider is only
// queried when the candidate is reached.
func DefaultOf(p Provider) Candidate {
	return func(ctx context.Context) (*Signer, error) { return Default(ctx, p) }
}

// Resolve evaluates candidates left to right and returns the first present
// signer. Errors from a candidate are returned unchanged.
func Resolve(ctx context.Context, candidates ...Candidate) (*Signer, error) {
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		s, err := candidate(ctx)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeSignerResolutionFailure, "")
}
