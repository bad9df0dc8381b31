package signature

import (
	"strings"
	"testing"
)

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte(`{"text":"hello"}`), "secret")

	if !strings.HasPrefix(sig, "v1=") {
		t.Fatalf("expected v1= prefix, got %q", sig)
	}
	// v1= plus a 32-byte hex digest.
	if len(sig) != 3+64 {
		t.Fatalf("unexpected signature length %d: %q", len(sig), sig)
	}
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"text":"hello"}`)

	a := Sign(payload, "secret")
	b := Sign(payload, "secret")
	if a != b {
		t.Fatalf("same payload and secret produced different signatures: %q vs %q", a, b)
	}

	if Sign(payload, "other") == a {
		t.Fatal("different secrets produced the same signature")
	}
	if Sign([]byte(`{"text":"bye"}`), "secret") == a {
		t.Fatal("different payloads produced the same signature")
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"text":"hello"}`)
	sig := Sign(payload, "secret")

	if !Verify(payload, "secret", sig) {
		t.Fatal("valid signature rejected")
	}
	if Verify(payload, "wrong", sig) {
		t.Fatal("signature verified with the wrong secret")
	}
	if Verify([]byte("tampered"), "secret", sig) {
		t.Fatal("signature verified for a tampered payload")
	}
	if Verify(payload, "secret", "") {
		t.Fatal("empty signature verified")
	}
}

func TestGenerateSecret(t *testing.T) {
	a := GenerateSecret()
	b := GenerateSecret()

	if !strings.HasPrefix(a, "nsec_") {
		t.Fatalf("expected nsec_ prefix, got %q", a)
	}
	if a == b {
		t.Fatal("two generated secrets are identical")
	}
}
