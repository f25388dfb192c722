package auth

import "github.com/pquerna/otp/totp"

// CheckTwoFACode validates a 6-digit TOTP code against secret (spec §3
// "2FA secret/enabled/last-token"). lastToken is the previously accepted
// code; a code equal to it is rejected even if it would otherwise validate,
// closing the replay window within a code's 30-second validity period.
func CheckTwoFACode(secret, code, lastToken string) bool {
	if code == "" || code == lastToken {
		return false
	}
	return totp.Validate(code, secret)
}
