// Package middleware contains the HTTP middleware chain: caller identity,
// admin authentication, and request logging.
package middleware

import (
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type ctxKey int

const callerKey ctxKey = 0

// Identity header names. Clients sign "darkbet-auth:<address>:<timestamp>"
// with their Ethereum key and send the address, the unix-second timestamp,
// and the 65-byte hex signature.
const (
	HeaderAddress   = "X-Darkbet-Address"
	HeaderTimestamp = "X-Darkbet-Timestamp"
	HeaderSignature = "X-Darkbet-Signature"
)

// AuthMessage builds the canonical string a client must sign to prove
// control of addr at the given unix-second timestamp.
func AuthMessage(addr string, ts int64) string {
	return "darkbet-auth:" + strings.ToLower(addr) + ":" + strconv.FormatInt(ts, 10)
}

// Identity returns middleware that recovers the caller's Ethereum address
// from signed request headers and stores it in the request context. Requests
// without identity headers pass through unauthenticated; handlers that need
// a caller reject those themselves. Requests with present but invalid
// headers are rejected outright.
func Identity(maxSkew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := r.Header.Get(HeaderAddress)
			tsStr := r.Header.Get(HeaderTimestamp)
			sigHex := r.Header.Get(HeaderSignature)

			if addr == "" && tsStr == "" && sigHex == "" {
				next.ServeHTTP(w, r)
				return
			}

			recovered, err := verifyIdentity(addr, tsStr, sigHex, maxSkew, time.Now())
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, recovered)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFrom returns the authenticated caller address stored by Identity.
func CallerFrom(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(callerKey).(string)
	return addr, ok
}

type identityError string

func (e identityError) Error() string { return string(e) }

func verifyIdentity(addr, tsStr, sigHex string, maxSkew time.Duration, now time.Time) (string, error) {
	if addr == "" || tsStr == "" || sigHex == "" {
		return "", identityError("incomplete identity headers")
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", identityError("malformed timestamp")
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > maxSkew {
		return "", identityError("stale identity signature")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return "", identityError("malformed signature")
	}
	// Normalize the recovery id: wallets emit 27/28, secp256k1 wants 0/1.
	if sig[64] >= 27 {
		sig = append(append([]byte(nil), sig[:64]...), sig[64]-27)
	}

	msgHash := accounts.TextHash([]byte(AuthMessage(addr, ts)))
	pub, err := ethcrypto.SigToPub(msgHash, sig)
	if err != nil {
		return "", identityError("signature recovery failed")
	}

	recovered := strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex())
	if recovered != strings.ToLower(strings.TrimSpace(addr)) {
		return "", identityError("signature does not match address")
	}
	return recovered, nil
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
