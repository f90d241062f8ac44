package subdomain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// MaxLength DNS label limit; candidates never exceed it, suffix included.
const MaxLength = 63

// maxSuffix caps the collision scan for one seed.
const maxSuffix = 1000

var subdomainRx = regexp.MustCompile(`^[a-z0-9-]+$`)

var (
	// ErrExhausted no free candidate could be derived from the seed.
	ErrExhausted = errors.New("subdomain candidates exhausted")
	// ErrInvalid the candidate fails the subdomain format rules.
	ErrInvalid = errors.New("invalid subdomain")
)

// ExistenceChecker is the slice of the tenants repository the allocator
// needs for its optimistic availability check.
type ExistenceChecker interface {
	SubdomainExists(ctx context.Context, subdomain string) (bool, error)
}

// Allocator derives unique URL-safe tenant handles from seed strings.
//
// The check here is optimistic (check-then-insert): final uniqueness is
// guaranteed only by the UNIQUE constraint on tenants.subdomain. Callers
// re-invoke Generate when the eventual insert fails on a uniqueness
// violation, bounded by their own retry budget.
type Allocator struct {
	tenants ExistenceChecker
	logger  *zap.Logger
}

func NewAllocator(tenants ExistenceChecker, logger *zap.Logger) *Allocator {
	return &Allocator{tenants: tenants, logger: logger}
}

// Validate checks an externally supplied subdomain candidate.
func Validate(candidate string) error {
	if candidate == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalid)
	}
	if len(candidate) > MaxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalid, MaxLength)
	}
	if !subdomainRx.MatchString(candidate) {
		return fmt.Errorf("%w: only lowercase letters, digits and '-' are allowed", ErrInvalid)
	}
	return nil
}

// Sanitize reduces a free-form seed to the subdomain alphabet.
func Sanitize(seed string) string {
	s := strings.ToLower(strings.TrimSpace(seed))

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			b.WriteByte('-')
		}
	}

	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	out = strings.Trim(out, "-")
	if len(out) > MaxLength {
		out = strings.Trim(out[:MaxLength], "-")
	}
	return out
}

// Generate returns the first free candidate derived from seed: the sanitized
// base, then base-1, base-2, ... Seeds that sanitize to nothing fall back to
// "tenant".
func (a *Allocator) Generate(ctx context.Context, seed string) (string, error) {
	base := Sanitize(seed)
	if base == "" {
		base = "tenant"
	}

	exists, err := a.tenants.SubdomainExists(ctx, base)
	if err != nil {
		return "", fmt.Errorf("failed to check subdomain availability: %w", err)
	}
	if !exists {
		return base, nil
	}

	for i := 1; i <= maxSuffix; i++ {
		candidate := suffixed(base, i)
		exists, err := a.tenants.SubdomainExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check subdomain availability: %w", err)
		}
		if !exists {
			a.logger.Debug("Subdomain collision resolved with suffix",
				zap.String("base", base),
				zap.String("candidate", candidate),
			)
			return candidate, nil
		}
	}

	return "", fmt.Errorf("seed %q: %w", seed, ErrExhausted)
}

// suffixed appends "-<n>", trimming the base so the result stays within
// MaxLength.
func suffixed(base string, n int) string {
	suffix := fmt.Sprintf("-%d", n)
	if len(base)+len(suffix) > MaxLength {
		base = strings.Trim(base[:MaxLength-len(suffix)], "-")
	}
	return base + suffix
}
