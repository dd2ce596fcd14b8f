// PASSWORD STORAGE:
// Citizens who register with an email get a bcrypt hash in users.password_hash.
// Citizens who only ever signed in with GitHub have an empty hash, and Verify
// rejects every password for them.
//
// bcrypt picks a random salt per call and stores it inside the result, so one
// column holds everything Verify needs:
//
//	$2a$12$<22-char salt><31-char hash>
//	 |  |
//	 |  +-- cost: 2^12 rounds
//	 +-- algorithm version
//
// Two citizens choosing the same password end up with different hashes.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
//
// Each step up doubles the time spent per hash. At 12 a login costs a few
// hundred milliseconds of CPU. Tests use bcrypt.MinCost instead.
const defaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer input is silently
// truncated by the algorithm, so Hash rejects it instead. The limit is in
// bytes, so a password of 40 accented letters is already over it.
const MaxPasswordBytes = 72

// ErrInvalidPassword is returned by Verify when the password does not match.
// Accounts without a password hash (GitHub sign-in) also fail with it.
var ErrInvalidPassword = errors.New("auth: invalid password")

// ErrPasswordTooLong is returned by Hash for input over MaxPasswordBytes.
var ErrPasswordTooLong = fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)

// PasswordService provides bcrypt hashing and verification.
// Tests inject a low cost to keep hashing fast.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// newPasswordServiceWithCost is used by the tests in this package.
func newPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest lets tests in other packages use bcrypt.MinCost.
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns a self-contained bcrypt hash ($2a$<cost>$<salt><hash>).
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks plaintext against a stored hash in constant time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return ErrInvalidPassword
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
