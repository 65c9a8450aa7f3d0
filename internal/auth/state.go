package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL はOAuth stateの有効期間。
const DefaultStateTTL = 10 * time.Minute

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("oauth state has expired")
)

// stateClaims はOAuth stateに埋め込むクレーム。
type stateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateSigner はOAuthのstateパラメータをHS256署名付きJWTとして発行・検証する。
// 発行したstateは同じ値をCookieにも保存し、コールバック時に両者の一致と署名を確認する。
type StateSigner struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewStateSigner はStateSignerを生成する。ttlが0以下の場合はDefaultStateTTLを使う。
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{
		secretKey: []byte(secret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Issue は新しいstateを発行する。
func (s *StateSigner) Issue() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	now := s.now()
	claims := stateClaims{
		Nonce: hex.EncodeToString(nonce),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify はクエリのstateとCookieのstateが一致し、署名と有効期限が正しいことを検証する。
func (s *StateSigner) Verify(queryState, cookieState string) error {
	if queryState == "" || cookieState == "" || queryState != cookieState {
		return ErrInvalidState
	}

	token, err := jwt.ParseWithClaims(queryState, &stateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredState
		}
		return ErrInvalidState
	}

	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid || claims.Nonce == "" {
		return ErrInvalidState
	}
	return nil
}
