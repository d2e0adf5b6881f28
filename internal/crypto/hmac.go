package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// exchange's contract API. The same key pair signs both the private REST
// calls and the websocket login.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// WsLoginSignature computes the websocket login signature for the given
// request time (unix ms): HMAC-SHA256(secret, apiKey+reqTime) hex-encoded.
func (h *HMACAuth) WsLoginSignature(reqTimeMs int64) string {
	ts := strconv.FormatInt(reqTimeMs, 10)
	return hmacSHA256Hex([]byte(h.Secret), h.Key+ts)
}

// RestHeaders returns the HTTP headers for a private REST request. The
// signature is HMAC-SHA256(secret, apiKey+requestTime+paramString) where
// paramString is the JSON body for POST or the sorted query string for GET.
//
// Returned header keys:
//   - ApiKey
//   - Request-Time
//   - Signature
func (h *HMACAuth) RestHeaders(paramString string) map[string]string {
	return h.RestHeadersAt(paramString, nowMillis())
}

// RestHeadersAt is like RestHeaders but lets the caller supply the request
// time in unix ms (useful for deterministic testing).
func (h *HMACAuth) RestHeadersAt(paramString string, reqTimeMs int64) map[string]string {
	ts := strconv.FormatInt(reqTimeMs, 10)
	sig := hmacSHA256Hex([]byte(h.Secret), h.Key+ts+paramString)

	return map[string]string{
		"ApiKey":       h.Key,
		"Request-Time": ts,
		"Signature":    sig,
	}
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// nowMillis returns the current time as unix milliseconds.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
