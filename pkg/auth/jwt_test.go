package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func hsConfig(now time.Time) JWTConfig {
	return JWTConfig{
		Algorithm: HS256,
		Secret:    testSecret,
		Issuer:    "assetguard",
		TTL:       time.Hour,
		Now:       func() time.Time { return now },
	}
}

func TestJWTConfig_Validate(t *testing.T) {
	assert.NoError(t, JWTConfig{Algorithm: HS256, Secret: testSecret}.Validate())
	assert.Error(t, JWTConfig{Algorithm: HS256, Secret: "short"}.Validate())
	assert.Error(t, JWTConfig{Algorithm: RS256}.Validate())
	assert.Error(t, JWTConfig{Algorithm: "none"}.Validate())
}

func TestJWT_RoundTrip(t *testing.T) {
	now := time.Now()
	issuer, err := NewJWTIssuer(hsConfig(now))
	require.NoError(t, err)
	verifier, err := NewJWTVerifier(hsConfig(now))
	require.NoError(t, err)

	token, err := issuer.Issue(Principal{UserID: 42, Username: "alice", Role: "manager"})
	require.NoError(t, err)

	p, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "manager", p.Role)
	assert.Equal(t, "42", p.Subject)
	assert.WithinDuration(t, now.Add(time.Hour), p.ExpiresAt, time.Second)
}

func TestJWT_ErrorCodes(t *testing.T) {
	issued := time.Now()
	issuer, err := NewJWTIssuer(hsConfig(issued))
	require.NoError(t, err)
	token, err := issuer.Issue(Principal{UserID: 42, Username: "alice"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		config JWTConfig
		token  string
		want   VerifyErrorCode
	}{
		{
			name:   "expired",
			config: hsConfig(issued.Add(2 * time.Hour)),
			token:  token,
			want:   CodeExpired,
		},
		{
			name:   "not yet valid",
			config: hsConfig(issued.Add(-time.Hour)),
			token:  token,
			want:   CodeNotActive,
		},
		{
			name:   "malformed",
			config: hsConfig(issued),
			token:  "definitely.not-a.jwt",
			want:   CodeMalformed,
		},
		{
			name:   "garbage",
			config: hsConfig(issued),
			token:  "garbage",
			want:   CodeMalformed,
		},
		{
			name: "wrong secret",
			config: func() JWTConfig {
				c := hsConfig(issued)
				c.Secret = "fedcba9876543210fedcba9876543210"
				return c
			}(),
			token: token,
			want:  CodeInvalid,
		},
		{
			name: "wrong issuer",
			config: func() JWTConfig {
				c := hsConfig(issued)
				c.Issuer = "someone-else"
				return c
			}(),
			token: token,
			want:  CodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewJWTVerifier(tt.config)
			require.NoError(t, err)

			_, err = v.Verify(context.Background(), tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.want, ErrorCode(err))

			var ve *VerifyError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestJWT_RequiresNumericUserID(t *testing.T) {
	now := time.Now()
	claims := jwt.MapClaims{
		"username": "bob",
		"sub":      "bob",
		"iss":      "assetguard",
		"exp":      now.Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	v, err := NewJWTVerifier(hsConfig(now))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.Equal(t, CodeInvalid, ErrorCode(err))
}

func TestJWT_RejectsAlgorithmSwitch(t *testing.T) {
	now := time.Now()
	claims := jwt.MapClaims{"user_id": 1, "iss": "assetguard", "exp": now.Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	v, err := NewJWTVerifier(hsConfig(now))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.Equal(t, CodeInvalid, ErrorCode(err))
}

func TestJWT_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	issuer, err := NewJWTIssuer(JWTConfig{Algorithm: RS256, PrivateKeyPEM: string(privPEM), Audience: "assetguard-api"})
	require.NoError(t, err)
	verifier, err := NewJWTVerifier(JWTConfig{Algorithm: RS256, PublicKeyPEM: string(pubPEM), Audience: "assetguard-api"})
	require.NoError(t, err)

	token, err := issuer.Issue(Principal{UserID: 7, Username: "carol"})
	require.NoError(t, err)

	p, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)

	other, err := NewJWTVerifier(JWTConfig{Algorithm: RS256, PublicKeyPEM: string(pubPEM), Audience: "another-api"})
	require.NoError(t, err)
	_, err = other.Verify(context.Background(), token)
	assert.Equal(t, CodeInvalid, ErrorCode(err))
}

func TestErrorCode_Fallback(t *testing.T) {
	assert.Equal(t, CodeInvalid, ErrorCode(assert.AnError))
	assert.Equal(t, CodeExpired, ErrorCode(&VerifyError{Code: CodeExpired}))
}

func TestVerifierFunc(t *testing.T) {
	var v Verifier = VerifierFunc(func(ctx context.Context, token string) (*Principal, error) {
		return &Principal{UserID: 1, Username: token}, nil
	})

	p, err := v.Verify(context.Background(), "dave")
	require.NoError(t, err)
	assert.Equal(t, "dave", p.Username)
}
