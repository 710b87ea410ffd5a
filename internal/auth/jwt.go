package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer значение iss в выданных токенах
	DefaultIssuer = "arena-server"
	// MinSecretLength минимальная длина секрета HS256 в байтах
	MinSecretLength = 32
	// DefaultTokenTTL время жизни админского токена
	DefaultTokenTTL = 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWeakSecret   = fmt.Errorf("secret key must be at least %d bytes", MinSecretLength)
)

// Claims представляет JWT claims
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// Issuer выпускает и проверяет HS256 токены с одним секретом
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer создаёт Issuer. Секрет принимается как есть или в base64.
func NewIssuer(secret string) (*Issuer, error) {
	key := []byte(secret)
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil && len(decoded) >= MinSecretLength {
		key = decoded
	}
	if len(key) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &Issuer{secret: key, issuer: DefaultIssuer, now: time.Now}, nil
}

// Issue создаёт токен для subject. ttl <= 0 означает DefaultTokenTTL.
func (i *Issuer) Issue(subject string, isAdmin bool, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := i.now()
	claims := &Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    i.issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate проверяет подпись, срок действия и издателя токена
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Проверяем метод подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecureSecret генерирует случайный секрет в base64
func GenerateSecureSecret() string {
	b := make([]byte, MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
