// Copyright 2025 AidTrace Project
//
// Credential vault - at-rest encryption of validator and principal
// signing keys. Ciphertext format: base64(salt):base64(iv):base64(ct)
// with AES-256-CBC over a PBKDF2-SHA256 derived key.

package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	ivSize     = 16
	keySize    = 32
	iterations = 10000
)

var (
	// ErrUnauthorized is returned when decryption fails because the
	// passphrase is wrong or the ciphertext was tampered with.
	ErrUnauthorized = errors.New("vault: decryption failed, wrong passphrase or tampered ciphertext")

	// ErrBadFormat is returned when the ciphertext string is not in the
	// salt:iv:ciphertext format.
	ErrBadFormat = errors.New("vault: malformed ciphertext")
)

// Encrypt encrypts plain under passphrase and returns the encoded
// ciphertext string.
func Encrypt(plain, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("vault: failed to generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: failed to generate IV: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: failed to init cipher: %w", err)
	}

	padded := pad([]byte(plain))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt. A wrong passphrase or tampered ciphertext
// yields ErrUnauthorized; a structurally invalid input yields
// ErrBadFormat.
func Decrypt(encoded, passphrase string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrBadFormat
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(salt) != saltSize {
		return "", ErrBadFormat
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != ivSize {
		return "", ErrBadFormat
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrBadFormat
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: failed to init cipher: %w", err)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, ok := unpad(plain)
	if !ok {
		return "", ErrUnauthorized
	}
	return string(unpadded), nil
}

// pad applies PKCS7 padding up to the AES block size.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS7 padding, reporting false when the padding bytes
// are inconsistent. Bad padding is how a wrong passphrase surfaces.
func unpad(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
