package crypto

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// AgeEncryptor encrypts backup records for an age recipient.
type AgeEncryptor struct {
	recipients []age.Recipient
}

// NewAgeEncryptor creates an encryptor from an age public key.
func NewAgeEncryptor(recipient string) (*AgeEncryptor, error) {
	r, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to parse age recipient %q: %w", recipient, err)
	}
	return &AgeEncryptor{recipients: []age.Recipient{r}}, nil
}

// Encrypt encrypts data for the configured recipients.
func (e *AgeEncryptor) Encrypt(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipients...)
	if err != nil {
		return nil, fmt.Errorf("age encryption failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("age encryption failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age encryption failed: %w", err)
	}
	return buf.Bytes(), nil
}

// AgeDecryptor handles age-encrypted backup decryption.
type AgeDecryptor struct {
	identities []age.Identity
}

// NewAgeDecryptor creates a decryptor from a private key file path.
func NewAgeDecryptor(privateKeyPath string) (*AgeDecryptor, error) {
	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read age private key from %s: %w", privateKeyPath, err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse age identities: %w", err)
	}

	if len(identities) == 0 {
		return nil, fmt.Errorf("no age identities found in %s", privateKeyPath)
	}

	return &AgeDecryptor{identities: identities}, nil
}

// NewAgeDecryptorFromEnv creates a decryptor using a private key from an environment variable.
func NewAgeDecryptorFromEnv(envVar string) (*AgeDecryptor, error) {
	keyData := os.Getenv(envVar)
	if keyData == "" {
		return nil, fmt.Errorf("age private key environment variable %s is not set", envVar)
	}

	identities, err := age.ParseIdentities(strings.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse age identities from env: %w", err)
	}

	if len(identities) == 0 {
		return nil, fmt.Errorf("no age identities found in environment variable %s", envVar)
	}

	return &AgeDecryptor{identities: identities}, nil
}

// Decrypt wraps the reader with age decryption.
// The returned reader must be fully consumed.
func (d *AgeDecryptor) Decrypt(r io.Reader) (io.Reader, error) {
	decrypted, err := age.Decrypt(r, d.identities...)
	if err != nil {
		return nil, fmt.Errorf("age decryption failed: %w", err)
	}
	return decrypted, nil
}

// DecryptAll decrypts an entire encrypted payload.
func (d *AgeDecryptor) DecryptAll(data []byte) ([]byte, error) {
	r, err := d.Decrypt(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("age decryption failed: %w", err)
	}
	return out, nil
}
