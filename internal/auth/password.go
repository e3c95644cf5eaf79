package auth

import "golang.org/x/crypto/bcrypt"

// MinPasswordLength applies to every coordinator account.
const MinPasswordLength = 8

// PasswordHasher hashes coordinator passwords at one bcrypt cost. It keeps a
// decoy hash so a login for an unknown email costs the same as a wrong
// password.
type PasswordHasher struct {
	cost  int
	decoy []byte
}

// NewPasswordHasher builds a hasher. Costs outside bcrypt's range fall back
// to the library default.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	decoy, err := bcrypt.GenerateFromPassword([]byte("decoy-password"), cost)
	if err != nil {
		return nil, err
	}
	return &PasswordHasher{cost: cost, decoy: decoy}, nil
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plain matches hashed. An empty hashed value is
// checked against the decoy and never matches.
func (h *PasswordHasher) Verify(hashed, plain string) bool {
	if hashed == "" {
		_ = bcrypt.CompareHashAndPassword(h.decoy, []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}

// Outdated reports whether hashed was produced at a different cost than the
// hasher's, so the caller can rehash after a successful login.
func (h *PasswordHasher) Outdated(hashed string) bool {
	cost, err := bcrypt.Cost([]byte(hashed))
	return err != nil || cost != h.cost
}
