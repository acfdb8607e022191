package crypto

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifyPassword(hash, "secret") {
		t.Fatal("expected password verification to succeed")
	}

	if VerifyPassword(hash, "incorrect") {
		t.Fatal("expected password verification to fail")
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	a, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	b, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}

	if a == b {
		t.Fatal("expected distinct tokens")
	}
	if len(a) == 0 {
		t.Fatal("expected non-empty token")
	}
}
