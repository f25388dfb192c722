// Package auth implements password hashing and bearer-token issuance for
// the single-admin-account model described in spec §4.5: no per-user ACLs,
// tokens that carry a password-derived claim rather than an expiry, and
// revocation by signing-secret rotation on password change.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/sha3"
)

const bcryptCost = 10

// HashPassword bcrypt-hashes a plaintext password at the fixed cost.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches the bcrypt hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// shake256Hash computes h = SHAKE256(storedHash, 16 bytes), the claim
// carried in bearer tokens (spec §4.5). It hashes the bcrypt hash string
// rather than the plaintext password: loginByToken must later recompute
// the same digest from persistence alone, with no plaintext in hand, so
// the digest has to be derived from something that is still readable at
// verify time.
func shake256Hash(storedHash string) []byte {
	h := make([]byte, 16)
	sponge := sha3.NewSHAKE256()
	sponge.Write([]byte(storedHash))
	sponge.Read(h)
	return h
}

// claims is the bearer-token payload: {username, h}.
type claims struct {
	Username string `json:"username"`
	H        string `json:"h"`
	jwt.RegisteredClaims
}

// IssueToken signs an opaque bearer token for username, binding it to the
// user's current bcrypt password hash via its SHAKE256 digest. Tokens do
// not expire; they are invalidated by signing-secret rotation (see
// rotateJWTSecret), and independently by the digest check in
// DigestMatchesStoredHash once the stored hash changes.
func IssueToken(secret []byte, username, storedHash string) (string, error) {
	h := shake256Hash(storedHash)
	c := claims{
		Username: username,
		H:        encodeHex(h),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the token's signature against secret and returns the
// claimed username and password digest. It does not itself check the
// digest against a user record — callers do that against persistence
// (LoginByToken semantics, spec §4.5).
func VerifyToken(secret []byte, token string) (username string, hashHex string, err error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: invalid token: %w", err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", "", fmt.Errorf("auth: invalid token claims")
	}
	return c.Username, c.H, nil
}

// DigestMatchesStoredHash reports whether hashHex (as extracted by
// VerifyToken) corresponds to the user's current bcrypt hash storedHash
// (spec §4.5 "verify that SHAKE256 of the stored hash equals the h claim").
func DigestMatchesStoredHash(hashHex, storedHash string) bool {
	return hashHex == encodeHex(shake256Hash(storedHash))
}

func encodeHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
