package moutai

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Signing constants lifted from the app. The salt prefixes every signed
// registration/login payload; the AES key/IV encrypt the actParam echo on
// submission calls.
const (
	signSalt = "2af72f100c356273d46284f6fd1dfc08"
	aesKey   = "qbhajinldepmucsonaaaccgypwuvcjaa"
	aesIV    = "2018534749963515"
)

// Signature computes md5(salt || content || timestampMillis) as lowercase
// hex. The timestamp must be generated immediately before the call and
// sent alongside the signature.
func Signature(content string, timestampMillis int64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%s%d", signSalt, content, timestampMillis)))
	return hex.EncodeToString(sum[:])
}

// SignSendCode signs a verification-code request.
func SignSendCode(mobile string, timestampMillis int64) string {
	return Signature(mobile, timestampMillis)
}

// SignLogin signs a login request.
func SignLogin(mobile, code string, timestampMillis int64) string {
	return Signature(mobile+code, timestampMillis)
}

// EncryptActParam AES-256-CBC encrypts the structured request body with
// the fixed key/IV and returns base64. The remote expects this encrypted
// echo next to the plaintext fields.
func EncryptActParam(plaintext string) (string, error) {
	block, err := aes.NewCipher([]byte(aesKey))
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(aesIV)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptActParam reverses EncryptActParam.
func DecryptActParam(ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher([]byte(aesKey))
	if err != nil {
		return "", err
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return "", fmt.Errorf("ciphertext length %d not a block multiple", len(raw))
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, []byte(aesIV)).CryptBlocks(out, raw)
	return string(pkcs7Unpad(out, block.BlockSize())), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte, blockSize int) []byte {
	if len(b) == 0 {
		return b
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return b
	}
	return b[:len(b)-n]
}

// NewDeviceID generates a stable per-account device identifier. Generated
// once when an account first requests a code, then reused for its
// lifetime.
func NewDeviceID() string {
	return uuid.NewString()
}
