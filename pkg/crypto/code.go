package crypto

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/authapp/iamcore/pkg/errs"
)

const codeDigits = "0123456789"

// GenerateCode returns a random numeric verification code of the given
// length, encrypted for storage alongside the plaintext handed to the
// notification channel.
func GenerateCode(length int, alg EncryptionAlgorithm) (plain string, crypted *CryptoValue, err error) {
	if length <= 0 {
		return "", nil, errs.NewInternal(nil, "CRYPT-ze9na", "code length must be positive")
	}
	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeDigits)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", nil, errs.NewInternal(err, "CRYPT-a2Jd9", "code generation failed")
		}
		buf[i] = codeDigits[n.Int64()]
	}
	crypted, err = Encrypt(buf, alg)
	if err != nil {
		return "", nil, err
	}
	return string(buf), crypted, nil
}

// VerifyCode checks a user supplied code against the stored envelope.
// Expired codes fail before the comparison runs.
func VerifyCode(creation time.Time, expiry time.Duration, crypted *CryptoValue, supplied string, alg EncryptionAlgorithm) error {
	if expiry > 0 && time.Since(creation) > expiry {
		return errs.NewPreconditionFailed(nil, "CRYPT-fa3Vb", "code expired")
	}
	if crypted == nil {
		return errs.NewPreconditionFailed(nil, "CRYPT-keC7a", "no code issued")
	}
	want, err := DecryptString(crypted, alg)
	if err != nil {
		return err
	}
	if want != supplied {
		return errs.NewInvalidArgument(nil, "CRYPT-wo20q", "invalid code")
	}
	return nil
}
