// Copyright 2025 AidTrace Project
//
// ECDSA P-256 key material and SHA-256 digests for the aid ledger.
// Keys and signatures travel as base64 strings so they can be embedded
// directly in transaction and block JSON.

package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateKeyPair creates a new ECDSA P-256 keypair.
// The public key is base64 over PKIX DER, the private key base64 over
// SEC1 EC DER.
func GenerateKeyPair() (publicKey string, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate P-256 key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode public key: %w", err)
	}
	privDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode private key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(pubDER),
		base64.StdEncoding.EncodeToString(privDER), nil
}

// ParsePrivateKey decodes a base64 SEC1 private key string.
func ParsePrivateKey(privateKey string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return nil, fmt.Errorf("private key is not valid base64: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EC private key: %w", err)
	}
	return key, nil
}

// ParsePublicKey decodes a base64 PKIX public key string.
func ParsePublicKey(publicKey string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("public key is not valid base64: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
	}
	ecPub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecPub, nil
}

// Sign signs message with the base64-encoded private key and returns a
// base64 ASN.1 DER signature. The message is prehashed with SHA-256.
func Sign(privateKey string, message []byte) (string, error) {
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether sig is a valid signature of message under the
// base64-encoded public key. Malformed keys or signatures verify as
// false; Verify never returns an error.
func Verify(publicKey string, message []byte, sig string) bool {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	rawSig, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], rawSig)
}
