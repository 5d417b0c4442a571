// Package crypto encrypts short secrets (verification codes, token seeds)
// before they are written into event payloads, and loads the master key
// material from a pluggable secret backend.
package crypto

import (
	"encoding/json"

	"github.com/authapp/iamcore/pkg/errs"
)

// EncryptionAlgorithm is a reversible cipher keyed by named keys, so values
// encrypted under a retired key stay decryptable during rotation.
type EncryptionAlgorithm interface {
	Algorithm() string
	EncryptionKeyID() string
	DecryptionKeyIDs() []string
	Encrypt(value []byte) ([]byte, error)
	Decrypt(value []byte, keyID string) ([]byte, error)
}

// CryptoValue is the stored envelope of an encrypted value. It carries the
// algorithm and key ID so payloads remain decryptable after key rotation.
type CryptoValue struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"keyID"`
	Crypted   []byte `json:"crypted"`
}

func (v *CryptoValue) MarshalJSON() ([]byte, error) {
	type alias CryptoValue
	return json.Marshal((*alias)(v))
}

func (v *CryptoValue) UnmarshalJSON(data []byte) error {
	type alias CryptoValue
	return json.Unmarshal(data, (*alias)(v))
}

// Encrypt seals value under the algorithm's current encryption key.
func Encrypt(value []byte, alg EncryptionAlgorithm) (*CryptoValue, error) {
	crypted, err := alg.Encrypt(value)
	if err != nil {
		return nil, errs.NewInternal(err, "CRYPT-9allx", "encryption failed")
	}
	return &CryptoValue{
		Algorithm: alg.Algorithm(),
		KeyID:     alg.EncryptionKeyID(),
		Crypted:   crypted,
	}, nil
}

// Decrypt opens an envelope produced by Encrypt.
func Decrypt(value *CryptoValue, alg EncryptionAlgorithm) ([]byte, error) {
	if value == nil {
		return nil, errs.NewInternal(nil, "CRYPT-SEl31", "nothing to decrypt")
	}
	if value.Algorithm != alg.Algorithm() {
		return nil, errs.NewInternal(nil, "CRYPT-rie2w", "algorithm mismatch: value %s, configured %s", value.Algorithm, alg.Algorithm())
	}
	plain, err := alg.Decrypt(value.Crypted, value.KeyID)
	if err != nil {
		return nil, errs.NewInternal(err, "CRYPT-x0Ba2", "decryption failed")
	}
	return plain, nil
}

// DecryptString is Decrypt for values known to hold UTF-8 text.
func DecryptString(value *CryptoValue, alg EncryptionAlgorithm) (string, error) {
	plain, err := Decrypt(value, alg)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
