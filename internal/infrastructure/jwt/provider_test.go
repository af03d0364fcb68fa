package jwtinfra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clinic-intake-api/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeys(t *testing.T) (*rsa.PrivateKey, *config.Config) {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privKey)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))
	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	return privKey, &config.Config{JWTPrivateKeyPath: privPath, JWTPublicKeyPath: pubPath, JWTIssuer: "clinic-intake-api"}
}

func TestProvider_SignVerify(t *testing.T) {
	_, cfg := writeKeys(t)
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	signed, err := p.Sign("id-1", "staff", "key-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := p.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.IdentityID)
	assert.Equal(t, "staff", claims.IdentityClass)
	assert.Equal(t, "key-1", claims.SessionKey)
	assert.Equal(t, "id-1", claims.Subject)
}

func TestProvider_RejectsExpired(t *testing.T) {
	_, cfg := writeKeys(t)
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	signed, err := p.Sign("id-1", "staff", "key-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = p.Verify(signed)
	assert.Error(t, err)
}

func TestProvider_RejectsWrongIssuer(t *testing.T) {
	priv, cfg := writeKeys(t)
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	claims := Claims{SessionKey: "k", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	_, err = p.Verify(signed)
	assert.Error(t, err)
}

func TestProvider_RejectsMissingSessionKey(t *testing.T) {
	priv, cfg := writeKeys(t)
	p, err := NewProvider(cfg)
	require.NoError(t, err)

	claims := Claims{IdentityID: "id-1", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    cfg.JWTIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	_, err = p.Verify(signed)
	assert.Error(t, err)
}

func TestNewProvider_MissingKeyFile(t *testing.T) {
	_, err := NewProvider(&config.Config{JWTPrivateKeyPath: "/nonexistent.pem"})
	assert.ErrorContains(t, err, "read private key")
}
