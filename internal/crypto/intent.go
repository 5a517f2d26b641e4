package crypto

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/darkbet/darkbet/internal/domain"
)

// intentLen is the encoded payload size: four 32-byte words
// (marketID, isYes, price, amount), matching the original ABI layout.
const intentLen = 128

// EncodeIntent serializes an order intent into the 128-byte wire payload.
// Price and amount occupy the low 8 bytes of their words, big-endian.
func EncodeIntent(in domain.OrderIntent) ([]byte, error) {
	marketID, err := hex.DecodeString(strings.TrimPrefix(in.MarketID, "0x"))
	if err != nil || len(marketID) != 32 {
		return nil, fmt.Errorf("crypto: market id %q is not a 32-byte hex string", in.MarketID)
	}
	if in.Price < 0 || in.Amount < 0 {
		return nil, fmt.Errorf("crypto: negative price or amount")
	}

	buf := make([]byte, intentLen)
	copy(buf[0:32], marketID)
	if in.Side == domain.SideYes {
		buf[63] = 1
	}
	binary.BigEndian.PutUint64(buf[88:96], uint64(in.Price))
	binary.BigEndian.PutUint64(buf[120:128], uint64(in.Amount))
	return buf, nil
}

// DecodeIntent parses a 128-byte wire payload back into an order intent.
// Any structural problem maps to domain.ErrDecryption so callers surface a
// single typed error for malformed ciphertext and malformed plaintext alike.
func DecodeIntent(payload []byte) (domain.OrderIntent, error) {
	if len(payload) != intentLen {
		return domain.OrderIntent{}, fmt.Errorf("%w: payload is %d bytes, want %d", domain.ErrDecryption, len(payload), intentLen)
	}

	// The boolean word must be 0 or 1 and the numeric words must fit int64;
	// anything else means the keystream did not line up.
	if !bytes.Equal(payload[32:63], make([]byte, 31)) || payload[63] > 1 {
		return domain.OrderIntent{}, fmt.Errorf("%w: malformed side word", domain.ErrDecryption)
	}
	if !bytes.Equal(payload[64:88], make([]byte, 24)) || !bytes.Equal(payload[96:120], make([]byte, 24)) {
		return domain.OrderIntent{}, fmt.Errorf("%w: numeric word overflow", domain.ErrDecryption)
	}

	price := binary.BigEndian.Uint64(payload[88:96])
	amount := binary.BigEndian.Uint64(payload[120:128])
	if price > 1<<62 || amount > 1<<62 {
		return domain.OrderIntent{}, fmt.Errorf("%w: numeric word overflow", domain.ErrDecryption)
	}

	side := domain.SideNo
	if payload[63] == 1 {
		side = domain.SideYes
	}

	return domain.OrderIntent{
		MarketID: "0x" + hex.EncodeToString(payload[0:32]),
		Side:     side,
		Price:    int64(price),
		Amount:   int64(amount),
	}, nil
}
