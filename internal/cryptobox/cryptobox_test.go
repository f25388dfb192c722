package cryptobox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	sealed, err := Seal(key, "s3cret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "enc:") {
		t.Fatalf("expected enc: prefix, got %q", sealed)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "enc:"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// spec §8 scenario 6: at least 28 bytes (12-byte nonce + >=6 byte
	// ciphertext + 16-byte tag).
	if len(raw) < 28 {
		t.Fatalf("expected sealed payload >= 28 bytes, got %d", len(raw))
	}

	got, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "s3cret" {
		t.Fatalf("expected round-tripped plaintext %q, got %q", "s3cret", got)
	}
}

func TestOpenRejectsUnprefixedValue(t *testing.T) {
	key, _ := NewKey()
	if _, err := Open(key, "plaintext-not-encrypted"); err == nil {
		t.Fatalf("expected Open to reject a value without the enc: prefix")
	}
}

func TestSealProducesDistinctNoncesEachCall(t *testing.T) {
	key, _ := NewKey()
	a, _ := Seal(key, "s3cret")
	b, _ := Seal(key, "s3cret")
	if a == b {
		t.Fatalf("expected two seals of the same plaintext to differ (random nonce)")
	}
}
