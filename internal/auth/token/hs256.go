// Package token issues and verifies HS256 bearer tokens whose subject is a wallet address.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "croupier-economy"

var errEmptySecret = errors.New("token: empty secret")

type Manager struct {
	secret []byte
	now    func() time.Time
}

func NewManager(secret string) *Manager { return &Manager{secret: []byte(secret), now: time.Now} }

type claims struct {
	jwt.RegisteredClaims
}

// Sign issues a token for addr valid for ttl. A zero ttl yields a token without expiry.
func (m *Manager) Sign(addr common.Address, ttl time.Duration) (string, error) {
	if len(m.secret) == 0 {
		return "", errEmptySecret
	}
	now := m.now()
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  addr.Hex(),
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}

// Verify checks signature, expiry and issuer and returns the caller address.
func (m *Manager) Verify(tok string) (common.Address, error) {
	if len(m.secret) == 0 {
		return common.Address{}, errEmptySecret
	}
	var c claims
	_, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(c.Subject) {
		return common.Address{}, fmt.Errorf("token: subject %q is not an address", c.Subject)
	}
	return common.HexToAddress(c.Subject), nil
}
