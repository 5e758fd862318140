// Package crypto provides the credential-at-rest and webhook-integrity
// primitives named in spec §5/§6 (CREDENTIAL_ENCRYPTION_KEY, inbound webhook
// signature verification). Grounded on the teacher's governance keyring
// (core/pkg/governance/keyring.go): HKDF-SHA256 tenant/organization key
// derivation from a single master secret, so no two organizations' blobs
// are decryptable with each other's key even though both derive from the
// same CREDENTIAL_ENCRYPTION_KEY.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const credentialKDFInfo = "switchboard-credential-kdf"

// CredentialCipher encrypts/decrypts cartridge credential blobs at rest
// (spec §6 "cartridge credentials are encrypted at rest using
// CREDENTIAL_ENCRYPTION_KEY") with AES-256-GCM.
type CredentialCipher struct {
	masterKey []byte
}

// NewCredentialCipher builds a cipher from the raw CREDENTIAL_ENCRYPTION_KEY
// value. The key need not be exactly 32 bytes: it is stretched via
// HKDF-SHA256 on every derivation, matching the teacher's keyring approach
// of treating the configured secret as key-derivation input material, not
// the key itself.
func NewCredentialCipher(masterKey []byte) (*CredentialCipher, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("credential cipher: master key must not be empty")
	}
	return &CredentialCipher{masterKey: masterKey}, nil
}

// deriveOrgKey derives a 32-byte AES-256 key scoped to one organization, so
// compromising one organization's derived key never exposes another's.
func (c *CredentialCipher) deriveOrgKey(organizationID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, c.masterKey, []byte(credentialKDFInfo), []byte(organizationID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("credential cipher: deriving key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a key derived for organizationID. The
// returned blob is nonce || ciphertext || tag, suitable for opaque storage
// in a cartridge's credential column.
func (c *CredentialCipher) Encrypt(organizationID string, plaintext []byte) ([]byte, error) {
	key, err := c.deriveOrgKey(organizationID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("credential cipher: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt for the same organizationID.
func (c *CredentialCipher) Decrypt(organizationID string, blob []byte) ([]byte, error) {
	key, err := c.deriveOrgKey(organizationID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("credential cipher: blob shorter than nonce")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: decryption failed: %w", err)
	}
	return plaintext, nil
}
