package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/darkbet/darkbet/internal/domain"
)

// The sealed envelope replaces the legacy keccak-XOR scheme with an
// authenticated key exchange: the sender generates an ephemeral X25519 key,
// derives a shared secret against the engine's public key, and seals the
// payload with XChaCha20-Poly1305. The wire shape stays (ciphertext, nonce);
// the ciphertext carries the ephemeral public key as a 32-byte prefix and
// binds it as AEAD associated data.

// sealedNonceLen is the XChaCha20-Poly1305 nonce length.
const sealedNonceLen = chacha20poly1305.NonceSizeX

// Keyring owns the engine's intent decryption key and exposes both public
// keys: the X25519 key for sealed intents and the legacy keccak-derived key
// for the compatibility cipher.
type Keyring struct {
	priv      [32]byte
	pub       [32]byte
	legacyPub []byte
}

// NewKeyring builds a Keyring from a hex-encoded 32-byte private scalar.
func NewKeyring(privateKeyHex string) (*Keyring, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(raw))
	}

	kr := &Keyring{}
	copy(kr.priv[:], raw)
	curve25519.ScalarBaseMult(&kr.pub, &kr.priv)
	kr.legacyPub = LegacyPublicKey(raw)
	return kr, nil
}

// PublicKey returns the X25519 public key used by the sealed cipher.
func (k *Keyring) PublicKey() []byte {
	out := make([]byte, 32)
	copy(out, k.pub[:])
	return out
}

// LegacyPublicKey returns the keccak-derived public key advertised for the
// compatibility cipher.
func (k *Keyring) LegacyPublicKey() []byte {
	out := make([]byte, 32)
	copy(out, k.legacyPub)
	return out
}

// Seal is the client-side path: it encrypts an encoded intent payload
// against the engine's X25519 public key and returns the envelope and the
// random nonce.
func Seal(enginePub, payload []byte) (ciphertext, nonce []byte, err error) {
	if len(enginePub) != 32 {
		return nil, nil, fmt.Errorf("crypto: engine public key must be 32 bytes")
	}

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, nil, fmt.Errorf("crypto: generating ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: ephemeral scalar mult: %w", err)
	}

	shared, err := curve25519.X25519(ephPriv[:], enginePub)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: key exchange: %w", err)
	}

	key := sha256.Sum256(shared)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: creating AEAD: %w", err)
	}

	nonce = make([]byte, sealedNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, payload, ephPub)
	ciphertext = append(ephPub, sealed...)
	return ciphertext, nonce, nil
}

// Open decrypts a sealed envelope. Any structural or authentication problem
// maps to domain.ErrDecryption.
func (k *Keyring) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != sealedNonceLen {
		return nil, fmt.Errorf("%w: bad nonce length %d", domain.ErrDecryption, len(nonce))
	}
	if len(ciphertext) < 32+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: envelope too short", domain.ErrDecryption)
	}

	ephPub := ciphertext[:32]
	sealed := ciphertext[32:]

	shared, err := curve25519.X25519(k.priv[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: key exchange: %v", domain.ErrDecryption, err)
	}

	key := sha256.Sum256(shared)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: creating AEAD: %v", domain.ErrDecryption, err)
	}

	payload, err := aead.Open(nil, nonce, sealed, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", domain.ErrDecryption)
	}
	return payload, nil
}
