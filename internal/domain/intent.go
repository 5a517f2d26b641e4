package domain

// EncryptedIntent is the wire form of a confidential order: the ciphertext
// of an encoded order payload plus the nonce used to derive the keystream.
// It is decoded inside the engine boundary and never persisted in plaintext.
type EncryptedIntent struct {
	Ciphertext []byte
	Nonce      []byte
}

// OrderIntent is the decrypted payload of an EncryptedIntent.
type OrderIntent struct {
	MarketID string
	Side     Side
	Price    int64
	Amount   int64
}
