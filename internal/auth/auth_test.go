package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testVerifier() *Verifier {
	return NewVerifier([]byte("test-secret"), "wpp-agent", "realtime")
}

func TestVerifyRoundTrip(t *testing.T) {
	v := testVerifier()

	token, err := v.Issue(Identity{UserID: "u1", TenantID: "t1", Role: "admin"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u1" || id.TenantID != "t1" || id.Role != "admin" {
		t.Errorf("identity = %+v", id)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := testVerifier()

	expired, err := v.Issue(Identity{UserID: "u1", TenantID: "t1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	wrongIssuer := NewVerifier([]byte("test-secret"), "other-service", "realtime")
	badIssuer, _ := wrongIssuer.Issue(Identity{UserID: "u1", TenantID: "t1"}, time.Minute)

	wrongAudience := NewVerifier([]byte("test-secret"), "wpp-agent", "admin-api")
	badAudience, _ := wrongAudience.Issue(Identity{UserID: "u1", TenantID: "t1"}, time.Minute)

	wrongKey := NewVerifier([]byte("other-secret"), "wpp-agent", "realtime")
	badSignature, _ := wrongKey.Issue(Identity{UserID: "u1", TenantID: "t1"}, time.Minute)

	noTenant, _ := v.Issue(Identity{UserID: "u1"}, time.Minute)
	noSubject, _ := v.Issue(Identity{TenantID: "t1"}, time.Minute)

	// Tokens must be HMAC; an unsigned token is rejected even with
	// matching claims.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "wpp-agent",
			Audience:  jwt.ClaimStrings{"realtime"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		TenantID: "t1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"expired", expired},
		{"wrong issuer", badIssuer},
		{"wrong audience", badAudience},
		{"wrong key", badSignature},
		{"missing tenant", noTenant},
		{"missing subject", noSubject},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, ErrAuthRejected) {
				t.Errorf("Verify err = %v, want ErrAuthRejected", err)
			}
		})
	}
}
