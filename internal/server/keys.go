package server

import "github.com/aureuma/dockpilot/internal/cryptobox"

// newEncryptionKey generates 32 random bytes, used both for the agent
// password-wrapping key and the bearer-token signing secret (spec §4.5,
// §4.9 both call for "a process-wide secret" / "32 random bytes").
func newEncryptionKey() ([]byte, error) {
	return cryptobox.NewKey()
}
