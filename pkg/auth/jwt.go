package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm is a supported JWT signing algorithm
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	RS256 Algorithm = "RS256"
)

// JWTConfig configures JWT verification and issuance
type JWTConfig struct {
	Algorithm Algorithm
	Secret    string // HS256 shared secret

	PublicKeyPEM  string // RS256 verification key
	PrivateKeyPEM string // RS256 signing key, issuer only

	Issuer   string
	Audience string
	Leeway   time.Duration
	TTL      time.Duration // lifetime of issued tokens

	// Now overrides the clock used for exp/nbf checks
	Now func() time.Time
}

// Validate checks the configuration for the selected algorithm
func (c JWTConfig) Validate() error {
	switch c.Algorithm {
	case HS256:
		if len(c.Secret) < 32 {
			return fmt.Errorf("HS256 secret must be at least 32 bytes")
		}
	case RS256:
		if c.PublicKeyPEM == "" && c.PrivateKeyPEM == "" {
			return fmt.Errorf("RS256 requires a public or private key")
		}
	default:
		return fmt.Errorf("unsupported algorithm: %q", c.Algorithm)
	}
	return nil
}

// Claims is the token payload
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies signed JWTs
type JWTVerifier struct {
	config    JWTConfig
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewJWTVerifier creates a verifier for config
func NewJWTVerifier(config JWTConfig) (*JWTVerifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid JWT config: %w", err)
	}

	v := &JWTVerifier{config: config}

	if config.Algorithm == RS256 {
		if config.PublicKeyPEM != "" {
			key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKeyPEM))
			if err != nil {
				return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
			}
			v.publicKey = key
		} else {
			key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(config.PrivateKeyPEM))
			if err != nil {
				return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
			}
			v.publicKey = &key.PublicKey
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{string(config.Algorithm)}),
		jwt.WithLeeway(config.Leeway),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	if config.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(config.Now))
	}
	v.parser = jwt.NewParser(opts...)

	return v, nil
}

// Verify implements Verifier
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFunc); err != nil {
		return nil, classifyJWTError(err)
	}
	return claims.principal()
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch v.config.Algorithm {
	case HS256:
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.config.Secret), nil
	case RS256:
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", v.config.Algorithm)
	}
}

func (c *Claims) principal() (*Principal, error) {
	userID := c.UserID
	if userID == 0 && c.Subject != "" {
		if id, err := strconv.ParseInt(c.Subject, 10, 64); err == nil {
			userID = id
		}
	}
	if userID <= 0 {
		return nil, verifyError(CodeInvalid, "token carries no numeric user_id")
	}

	p := &Principal{
		UserID:   userID,
		Username: c.Username,
		Role:     c.Role,
		Subject:  c.Subject,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p, nil
}

func classifyJWTError(err error) *VerifyError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &VerifyError{Code: CodeMalformed, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &VerifyError{Code: CodeExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &VerifyError{Code: CodeNotActive, Err: err}
	default:
		return &VerifyError{Code: CodeInvalid, Err: err}
	}
}

// JWTIssuer signs tokens. It backs the development `token` command and tests.
type JWTIssuer struct {
	config     JWTConfig
	privateKey *rsa.PrivateKey
}

// NewJWTIssuer creates an issuer for config
func NewJWTIssuer(config JWTConfig) (*JWTIssuer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid JWT config: %w", err)
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}

	issuer := &JWTIssuer{config: config}
	if config.Algorithm == RS256 {
		if config.PrivateKeyPEM == "" {
			return nil, fmt.Errorf("RS256 issuer requires a private key")
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(config.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
		}
		issuer.privateKey = key
	}
	return issuer, nil
}

// Issue signs a token for the principal
func (i *JWTIssuer) Issue(p Principal) (string, error) {
	now := time.Now()
	if i.config.Now != nil {
		now = i.config.Now()
	}

	claims := &Claims{
		UserID:   p.UserID,
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
			ID:        uuid.New().String(),
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	var (
		token *jwt.Token
		key   interface{}
	)
	switch i.config.Algorithm {
	case HS256:
		token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		key = []byte(i.config.Secret)
	case RS256:
		token = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		key = i.privateKey
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
