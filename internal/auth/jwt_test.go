package auth

import "testing"

func TestSessionToken_RoundTrip(t *testing.T) {
	secret := []byte("test-session-secret")

	token, exp, err := GenerateSessionToken("acct-123", secret)
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}
	if exp == 0 {
		t.Error("expiration timestamp is zero")
	}

	account, err := ValidateSessionToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateSessionToken failed: %v", err)
	}
	if account != "acct-123" {
		t.Errorf("account = %q, want acct-123", account)
	}
}

func TestSessionToken_WrongSecret(t *testing.T) {
	token, _, err := GenerateSessionToken("acct-123", []byte("secret-a"))
	if err != nil {
		t.Fatalf("GenerateSessionToken failed: %v", err)
	}

	if _, err := ValidateSessionToken(token, []byte("secret-b")); err == nil {
		t.Error("token signed with another secret validated")
	}
}

func TestSessionToken_Garbage(t *testing.T) {
	if _, err := ValidateSessionToken("not.a.token", []byte("secret")); err == nil {
		t.Error("garbage token validated")
	}
}
