// Package secrets cifra i valori sensibili persistiti nel database
// (snapshot di configurazione rclone) con una chiave age X25519.
package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// I valori cifrati portano questo prefisso; tutto il resto viene
// restituito com'è, così i database scritti senza chiave restano leggibili.
const sealedPrefix = "age:"

// Box cifra e decifra stringhe con una singola identità age.
// Un Box nil è valido e lascia i valori in chiaro.
type Box struct {
	identity *age.X25519Identity
}

// NewBox crea il box da una chiave segreta age (AGE-SECRET-KEY-...).
// Una chiave vuota disattiva la cifratura.
func NewBox(key string) (*Box, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	identity, err := age.ParseX25519Identity(key)
	if err != nil {
		return nil, fmt.Errorf("invalid age secret key: %w", err)
	}
	return &Box{identity: identity}, nil
}

// Seal cifra plain e lo codifica per una colonna TEXT
func (b *Box) Seal(plain []byte) (string, error) {
	if b == nil {
		return string(plain), nil
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, b.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("initialize age encryption: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return "", fmt.Errorf("encrypt value: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize age encryption: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decifra un valore prodotto da Seal. I valori senza prefisso
// vengono restituiti invariati.
func (b *Box) Open(value string) ([]byte, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return []byte(value), nil
	}
	if b == nil {
		return nil, fmt.Errorf("value is encrypted but no age key is configured")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode encrypted value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), b.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt value: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read decrypted value: %w", err)
	}
	return plain, nil
}
