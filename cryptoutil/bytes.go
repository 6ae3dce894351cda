package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func ID(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func Random() (string, error) {
	bytes := make([]byte, 25)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("error generating random bytes: %w", err)
	}
	token := strings.ToLower(base32.StdEncoding.EncodeToString(bytes))
	return token, nil
}

// Suffix returns n random base36 characters, used to keep object keys unique.
func Suffix(n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("error generating suffix: %w", err)
		}
		b.WriteByte(suffixAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

func Sign(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret []byte, message, signature string) bool {
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}
