package middleware

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func signAuth(t *testing.T, privHex, addr string, ts int64) string {
	t.Helper()
	priv, err := ethcrypto.HexToECDSA(privHex)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(AuthMessage(addr, ts))), priv)
	if err != nil {
		t.Fatal(err)
	}
	// Wallets present the recovery id as 27/28.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

const testPrivHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testAddr(t *testing.T) string {
	t.Helper()
	priv, err := ethcrypto.HexToECDSA(testPrivHex)
	if err != nil {
		t.Fatal(err)
	}
	return ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
}

func TestVerifyIdentity_ValidSignature(t *testing.T) {
	addr := testAddr(t)
	now := time.Now()
	ts := now.Unix()
	sig := signAuth(t, testPrivHex, addr, ts)

	recovered, err := verifyIdentity(addr, strconv.FormatInt(ts, 10), sig, 5*time.Minute, now)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != strings.ToLower(addr) {
		t.Errorf("recovered = %q, want %q", recovered, strings.ToLower(addr))
	}
}

func TestVerifyIdentity_StaleTimestamp(t *testing.T) {
	addr := testAddr(t)
	now := time.Now()
	ts := now.Add(-10 * time.Minute).Unix()
	sig := signAuth(t, testPrivHex, addr, ts)

	if _, err := verifyIdentity(addr, strconv.FormatInt(ts, 10), sig, 5*time.Minute, now); err == nil {
		t.Fatal("expected stale signature to be rejected")
	}
}

func TestVerifyIdentity_WrongAddress(t *testing.T) {
	addr := testAddr(t)
	other := "0x2222222222222222222222222222222222222222"
	now := time.Now()
	ts := now.Unix()
	// Signature commits to the claimed address, so claiming someone
	// else's address with your own key must fail.
	sig := signAuth(t, testPrivHex, other, ts)

	if _, err := verifyIdentity(other, strconv.FormatInt(ts, 10), sig, 5*time.Minute, now); err == nil {
		t.Fatal("expected mismatched address to be rejected")
	}
	// And a signature for your own address cannot be replayed under another.
	sig = signAuth(t, testPrivHex, addr, ts)
	if _, err := verifyIdentity(other, strconv.FormatInt(ts, 10), sig, 5*time.Minute, now); err == nil {
		t.Fatal("expected replay under different address to be rejected")
	}
}

func TestVerifyIdentity_MalformedInputs(t *testing.T) {
	addr := testAddr(t)
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)

	cases := []struct {
		name          string
		addr, ts, sig string
	}{
		{"missing address", "", ts, "0xabcd"},
		{"missing signature", addr, ts, ""},
		{"bad timestamp", addr, "not-a-number", "0xabcd"},
		{"bad hex", addr, ts, "0xzz"},
		{"short signature", addr, ts, "0xabcd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := verifyIdentity(tc.addr, tc.ts, tc.sig, 5*time.Minute, now); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}

func TestIdentity_AnonymousPassesThrough(t *testing.T) {
	var sawCaller bool
	h := Identity(5 * time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawCaller = CallerFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sawCaller {
		t.Error("anonymous request should carry no caller")
	}
}

func TestIdentity_ValidHeadersSetCaller(t *testing.T) {
	addr := testAddr(t)
	ts := time.Now().Unix()

	var caller string
	h := Identity(5 * time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = CallerFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set(HeaderAddress, addr)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signAuth(t, testPrivHex, addr, ts))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if caller != strings.ToLower(addr) {
		t.Errorf("caller = %q", caller)
	}
}

func TestIdentity_PartialHeadersRejected(t *testing.T) {
	h := Identity(5 * time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set(HeaderAddress, testAddr(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminAuth_KeyRequired(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		h := AdminAuth("sekrit")(next)
		req := httptest.NewRequest(http.MethodPost, "/api/admin/credit", nil)
		req.Header.Set("Authorization", "Bearer sekrit")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("api key header accepted", func(t *testing.T) {
		h := AdminAuth("sekrit")(next)
		req := httptest.NewRequest(http.MethodPost, "/api/admin/credit", nil)
		req.Header.Set("X-API-Key", "sekrit")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		h := AdminAuth("sekrit")(next)
		req := httptest.NewRequest(http.MethodPost, "/api/admin/credit", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("empty configured key fails closed", func(t *testing.T) {
		h := AdminAuth("")(next)
		req := httptest.NewRequest(http.MethodPost, "/api/admin/credit", nil)
		req.Header.Set("Authorization", "Bearer anything")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rec.Code)
		}
	})
}
