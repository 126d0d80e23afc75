package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionTokenType = "session"

type JWTService struct {
	secretKey []byte
	issuer    string
	tokenTTL  time.Duration
}

type Claims struct {
	SessionID string `json:"sessionId"`
	Platform  string `json:"platform,omitempty"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

func NewJWTService(secretKey, issuer string, tokenTTL time.Duration) *JWTService {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		tokenTTL:  tokenTTL,
	}
}

// GenerateSessionToken signs a token bound to one coordinator session
func (j *JWTService) GenerateSessionToken(sessionID, platform string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(j.tokenTTL)

	claims := Claims{
		SessionID: sessionID,
		Platform:  platform,
		TokenType: sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
			Subject:   sessionID,
			ID:        GenerateUUID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(j.issuer))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.TokenType != sessionTokenType {
		return nil, errors.New("invalid token type")
	}

	return claims, nil
}
