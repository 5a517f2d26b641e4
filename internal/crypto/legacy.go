package crypto

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/darkbet/darkbet/internal/domain"
)

// The legacy cipher reproduces the original wire scheme:
//
//	publicKey = keccak256(privateKey || "public")
//	keystream = keccak256(publicKey || nonce)
//	plaintext = ciphertext XOR repeat(keystream)
//
// The keystream is derived entirely from public values, so any holder of the
// public key can decrypt. It is kept only so existing clients keep working;
// it is a compatibility format, not a security boundary. New clients should
// use the sealed envelope in sealed.go.

// legacyNonceLen is the required nonce length for the legacy scheme.
const legacyNonceLen = 32

// LegacyPublicKey derives the advertised public key from the engine's
// private key, matching the original derivation.
func LegacyPublicKey(priv []byte) []byte {
	return ethcrypto.Keccak256(priv, []byte("public"))
}

// legacyXOR applies the repeating keccak keystream in place over a copy of
// data. Encryption and decryption are the same operation.
func legacyXOR(publicKey, nonce, data []byte) []byte {
	keystream := ethcrypto.Keccak256(publicKey, nonce)
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ keystream[i%len(keystream)]
	}
	return out
}

// EncryptLegacy is the client-side path: it encrypts an encoded intent
// payload against the engine's advertised public key.
func EncryptLegacy(publicKey, nonce, payload []byte) ([]byte, error) {
	if len(publicKey) != 32 || len(nonce) != legacyNonceLen {
		return nil, fmt.Errorf("crypto: legacy public key and nonce must be 32 bytes")
	}
	return legacyXOR(publicKey, nonce, payload), nil
}

// DecryptLegacy recovers the intent payload from a legacy ciphertext.
func DecryptLegacy(publicKey, nonce, ciphertext []byte) ([]byte, error) {
	if len(publicKey) != 32 {
		return nil, fmt.Errorf("%w: bad public key length %d", domain.ErrDecryption, len(publicKey))
	}
	if len(nonce) != legacyNonceLen {
		return nil, fmt.Errorf("%w: bad nonce length %d", domain.ErrDecryption, len(nonce))
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", domain.ErrDecryption)
	}
	return legacyXOR(publicKey, nonce, ciphertext), nil
}
