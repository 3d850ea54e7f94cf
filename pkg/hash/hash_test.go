package hash

import "testing"

func TestHashPasswordRoundTrip(t *testing.T) {
	hashed, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if hashed == "s3cret-pass" {
		t.Fatal("expected hashed password to differ from plain text")
	}
	if !CheckPasswordHash("s3cret-pass", hashed) {
		t.Error("expected matching password to verify")
	}
	if CheckPasswordHash("wrong", hashed) {
		t.Error("expected wrong password to be rejected")
	}
}

func TestCheckPasswordHashRejectsGarbage(t *testing.T) {
	if CheckPasswordHash("anything", "not-a-bcrypt-hash") {
		t.Error("expected malformed hash to be rejected")
	}
}
