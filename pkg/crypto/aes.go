package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const aesKeyLen = 32

// AESCrypto implements EncryptionAlgorithm with AES-256-GCM. The nonce is
// prepended to the ciphertext.
type AESCrypto struct {
	encryptionKeyID string
	keys            map[string][]byte
}

// NewAESCrypto builds an AESCrypto encrypting under encryptionKeyID. keys
// must contain the encryption key and may carry retired keys for decryption.
// Every key must be exactly 32 bytes.
func NewAESCrypto(encryptionKeyID string, keys map[string][]byte) (*AESCrypto, error) {
	if _, ok := keys[encryptionKeyID]; !ok {
		return nil, fmt.Errorf("encryption key %q not in key set", encryptionKeyID)
	}
	for id, key := range keys {
		if len(key) != aesKeyLen {
			return nil, fmt.Errorf("key %q has length %d, want %d", id, len(key), aesKeyLen)
		}
	}
	copied := make(map[string][]byte, len(keys))
	for id, key := range keys {
		copied[id] = append([]byte(nil), key...)
	}
	return &AESCrypto{encryptionKeyID: encryptionKeyID, keys: copied}, nil
}

func (a *AESCrypto) Algorithm() string { return "aes256-gcm" }

func (a *AESCrypto) EncryptionKeyID() string { return a.encryptionKeyID }

func (a *AESCrypto) DecryptionKeyIDs() []string {
	ids := make([]string, 0, len(a.keys))
	for id := range a.keys {
		ids = append(ids, id)
	}
	return ids
}

func (a *AESCrypto) Encrypt(value []byte) ([]byte, error) {
	gcm, err := a.gcm(a.encryptionKeyID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, value, nil), nil
}

func (a *AESCrypto) Decrypt(value []byte, keyID string) ([]byte, error) {
	gcm, err := a.gcm(keyID)
	if err != nil {
		return nil, err
	}
	if len(value) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, ciphertext := value[:gcm.NonceSize()], value[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (a *AESCrypto) gcm(keyID string) (cipher.AEAD, error) {
	key, ok := a.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("unknown key ID %q", keyID)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
