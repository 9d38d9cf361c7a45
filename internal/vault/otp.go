package vault

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/signetfin/signet/internal/keys"
)

// NewOTPSecret generates a TOTP seed for the given username and seals
// it to the account's own exchange key. Only a caller who has already
// unlocked the account's private key can read the seed back.
func NewOTPSecret(username string, kp *keys.KeyPair) (encrypted []byte, clearSecret string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "signet",
		AccountName: username,
	})
	if err != nil {
		return nil, "", err
	}

	sealed, err := keys.Seal(kp.ExchangePublicKey(), []byte(key.Secret()))
	if err != nil {
		return nil, "", err
	}
	return sealed.Bytes(), key.Secret(), nil
}

// VerifyOTP decrypts the sealed seed with the unlocked key pair and
// checks the code against the current time window (one step of skew
// either side).
func VerifyOTP(encryptedSecret []byte, kp *keys.KeyPair, code string) error {
	sealed, err := keys.ParseSealed(encryptedSecret)
	if err != nil {
		return err
	}
	secret, err := keys.Open(kp.ExchangeKey(), sealed)
	if err != nil {
		return err
	}

	ok, err := totp.ValidateCustom(code, string(secret), time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserValidation
	}
	return nil
}
