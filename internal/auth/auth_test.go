package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter22!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "hunter22!") {
		t.Fatalf("expected correct password to check out")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("s3cr3t-signing-key")
	hash, err := HashPassword("hunter22!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	tok, err := IssueToken(secret, "admin", hash)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	username, h, err := VerifyToken(secret, tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if username != "admin" {
		t.Fatalf("expected username admin, got %q", username)
	}
	if !DigestMatchesStoredHash(h, hash) {
		t.Fatalf("expected digest to match the hash the token was issued against")
	}
	otherHash, err := HashPassword("hunter22!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if DigestMatchesStoredHash(h, otherHash) {
		t.Fatalf("expected digest not to match an unrelated hash")
	}
}

func TestTokenInvalidatedByPasswordChange(t *testing.T) {
	secret := []byte("s3cr3t-signing-key")
	hash, err := HashPassword("hunter22!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	tok, err := IssueToken(secret, "admin", hash)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	_, h, err := VerifyToken(secret, tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}

	newHash, err := HashPassword("newpassword!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	// Simulates changePassword replacing the stored hash (spec §8 invariant
	// 4: a subsequent changePassword causes loginByToken to fail).
	if DigestMatchesStoredHash(h, newHash) {
		t.Fatalf("expected digest to stop matching once the stored hash changes")
	}
}

func TestTokenInvalidatedBySecretRotation(t *testing.T) {
	oldSecret := []byte("old-secret")
	newSecret := []byte("new-secret")
	hash, err := HashPassword("hunter22!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	tok, err := IssueToken(oldSecret, "admin", hash)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	// Simulates changePassword rotating the signing secret (spec §8
	// invariant 4: a subsequent changePassword causes loginByToken to fail).
	if _, _, err := VerifyToken(newSecret, tok); err == nil {
		t.Fatalf("expected token signed with rotated-away secret to fail verification")
	}
}

func TestRateLimiterExhaustion(t *testing.T) {
	l := NewLimiter(20)
	ip := "203.0.113.5"
	allowed := 0
	for i := 0; i < 30; i++ {
		if l.Allow(ip) {
			allowed++
		}
	}
	if allowed > 20 {
		t.Fatalf("expected burst to be capped at 20, got %d allowed", allowed)
	}
	if allowed == 0 {
		t.Fatalf("expected at least some requests allowed")
	}
}

func TestRateLimiterIsolatedByIP(t *testing.T) {
	l := NewLimiter(1)
	if !l.Allow("1.1.1.1") {
		t.Fatalf("expected first request from 1.1.1.1 to be allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatalf("expected first request from a different IP to be allowed independently")
	}
}
