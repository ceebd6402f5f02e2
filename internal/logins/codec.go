package logins

import (
	"encoding/base64"
	"encoding/json"
)

// Encryptor is the injected field codec (component A). The core never
// inspects key material; it only binds the record id into the encryption
// context so ciphertext cannot be replayed under a different id.
type Encryptor interface {
	Encrypt(id string, plaintext []byte) ([]byte, error)
	Decrypt(id string, ciphertext []byte) ([]byte, error)
}

// encryptSecureFields serializes and encrypts a record's secret payload,
// returning the value stored in the secFields column.
func encryptSecureFields(enc Encryptor, id string, s SecureFields) (string, error) {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return "", &CryptoFailureError{Op: "marshal", Err: err}
	}
	ciphertext, err := enc.Encrypt(id, plaintext)
	if err != nil {
		return "", &CryptoFailureError{Op: "encrypt", Err: err}
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptSecureFields reverses encryptSecureFields.
func decryptSecureFields(enc Encryptor, id, encoded string) (SecureFields, error) {
	var s SecureFields
	if encoded == "" {
		return s, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s, &CryptoFailureError{Op: "base64-decode", Err: err}
	}
	plaintext, err := enc.Decrypt(id, ciphertext)
	if err != nil {
		return s, &CryptoFailureError{Op: "decrypt", Err: err}
	}
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return s, &CryptoFailureError{Op: "unmarshal", Err: err}
	}
	return s, nil
}
