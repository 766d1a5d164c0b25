// Package vault provides AES-256-GCM encryption for account secrets. The
// automation layer only ever sees decrypted payloads immediately before use;
// everything at rest goes through here.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Blob is the serialized form of an encrypted record.
type Blob struct {
	IV        string `json:"iv"`
	Encrypted string `json:"encrypted"`
	AuthTag   string `json:"authTag"`
}

// Vault encrypts and decrypts opaque records with a fixed 32-byte key.
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from a 32-byte AES key.
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, errors.Newf("vault key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "create gcm")
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns the blob as JSON bytes, suitable for
// storing in an account payload column.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "generate iv")
	}

	sealed := v.aead.Seal(nil, iv, plaintext, nil)
	// GCM appends the 16-byte auth tag to the ciphertext; split it out so the
	// stored shape matches {iv, encrypted, authTag}.
	tagStart := len(sealed) - 16
	blob := Blob{
		IV:        hex.EncodeToString(iv),
		Encrypted: hex.EncodeToString(sealed[:tagStart]),
		AuthTag:   hex.EncodeToString(sealed[tagStart:]),
	}
	return json.Marshal(blob)
}

// Decrypt opens a JSON blob produced by Encrypt.
func (v *Vault) Decrypt(data []byte) ([]byte, error) {
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, errors.Wrap(err, "parse encrypted blob")
	}

	iv, err := hex.DecodeString(blob.IV)
	if err != nil {
		return nil, errors.Wrap(err, "decode iv")
	}
	ciphertext, err := hex.DecodeString(blob.Encrypted)
	if err != nil {
		return nil, errors.Wrap(err, "decode ciphertext")
	}
	tag, err := hex.DecodeString(blob.AuthTag)
	if err != nil {
		return nil, errors.Wrap(err, "decode auth tag")
	}

	plaintext, err := v.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt")
	}
	return plaintext, nil
}

// EncryptJSON marshals a record and encrypts it.
func (v *Vault) EncryptJSON(record any) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	return v.Encrypt(raw)
}

// DecryptJSON decrypts a blob and unmarshals it into out.
func (v *Vault) DecryptJSON(data []byte, out any) error {
	raw, err := v.Decrypt(data)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(raw, out), "unmarshal record")
}
