package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	userID := uuid.NewString()

	token, err := m.Generate(userID, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != userID || claims.Username != "alice" {
		t.Errorf("claims = %q/%q, want %q/alice", claims.Subject, claims.Username, userID)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-a", time.Hour).Generate(uuid.NewString(), "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := NewJWTManager("secret-b", time.Hour).Verify(token); err == nil {
		t.Fatal("token signed with another secret passed verification")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)
	token, err := m.Generate(uuid.NewString(), "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m.Verify(token); err == nil {
		t.Fatal("expired token passed verification")
	}
}

func TestExpiry(t *testing.T) {
	ttl := 2 * time.Hour
	m := NewJWTManager("test-secret", ttl)
	token, err := m.Generate(uuid.NewString(), "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	exp, err := m.Expiry(token)
	if err != nil {
		t.Fatalf("expiry: %v", err)
	}
	want := time.Now().Add(ttl)
	if exp.Before(want.Add(-time.Minute)) || exp.After(want.Add(time.Minute)) {
		t.Errorf("expiry %v, want about %v", exp, want)
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")

	token, err := ExtractTokenFromHeader(req)
	if err != nil || token != "abc.def.ghi" {
		t.Fatalf("got %q, %v", token, err)
	}

	req.Header.Set("Authorization", "Token abc")
	if _, err := ExtractTokenFromHeader(req); err == nil {
		t.Fatal("non-bearer header accepted")
	}

	req.Header.Del("Authorization")
	if _, err := ExtractTokenFromHeader(req); err == nil {
		t.Fatal("missing header accepted")
	}
}
