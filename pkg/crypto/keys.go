package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"gocloud.dev/secrets"
	// Keeper drivers are opt-in; the binary imports the ones it needs:
	// _ "gocloud.dev/secrets/awskms"
	// _ "gocloud.dev/secrets/gcpkms"
	// _ "gocloud.dev/secrets/hashivault"
	// _ "gocloud.dev/secrets/localsecrets"
)

// LoadMasterKey opens the secret keeper at keeperURL and decrypts the
// base64-encoded ciphertext into the raw AES master key. The keeper URL
// selects the backend (localsecrets base64key:// in development, a KMS in
// production).
func LoadMasterKey(ctx context.Context, keeperURL, encryptedKeyBase64 string) ([]byte, error) {
	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("open secret keeper: %w", err)
	}
	defer keeper.Close()

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode encrypted master key: %w", err)
	}

	key, err := keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt master key: %w", err)
	}
	if len(key) != aesKeyLen {
		return nil, fmt.Errorf("master key has length %d, want %d", len(key), aesKeyLen)
	}
	return key, nil
}

// SealMasterKey encrypts raw key material through the keeper at keeperURL
// and returns it base64 encoded, the inverse of LoadMasterKey. Used by
// provisioning tooling.
func SealMasterKey(ctx context.Context, keeperURL string, key []byte) (string, error) {
	if len(key) != aesKeyLen {
		return "", fmt.Errorf("master key has length %d, want %d", len(key), aesKeyLen)
	}
	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return "", fmt.Errorf("open secret keeper: %w", err)
	}
	defer keeper.Close()

	ciphertext, err := keeper.Encrypt(ctx, key)
	if err != nil {
		return "", fmt.Errorf("encrypt master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
