// Package token signs and verifies the short-lived credentials the web app
// hands to a browser before it opens a realtime connection. Tokens are
// stateless: base64url(json(payload)) + "." + base64url(hmac-sha256), verified
// against the shared secret and the embedded expiry only.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMalformedPayload = errors.New("malformed token payload")
	ErrTokenExpired     = errors.New("token expired")
)

// Payload are the claims carried by a join token. Exp is unix seconds.
type Payload struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
	Exp      int64  `json:"exp"`
}

var encoding = base64.RawURLEncoding

// Sign produces "<base64url(json)>.<base64url(hmac)>".
func Sign(p Payload, secret string) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	body := encoding.EncodeToString(raw)
	return body + "." + encoding.EncodeToString(sign(body, secret)), nil
}

// Verify checks the signature and expiry and returns the claims.
func Verify(tok, secret string) (Payload, error) {
	return verifyAt(tok, secret, time.Now())
}

func verifyAt(tok, secret string, now time.Time) (Payload, error) {
	body, sig, ok := strings.Cut(tok, ".")
	if !ok || body == "" || sig == "" {
		return Payload{}, ErrMalformedToken
	}
	gotSig, err := encoding.DecodeString(sig)
	if err != nil {
		return Payload{}, ErrMalformedToken
	}
	if !hmac.Equal(gotSig, sign(body, secret)) {
		return Payload{}, ErrInvalidSignature
	}
	raw, err := encoding.DecodeString(body)
	if err != nil {
		return Payload{}, ErrMalformedToken
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, ErrMalformedPayload
	}
	if p.RoomCode == "" || p.PlayerID == "" || p.Exp == 0 {
		return Payload{}, ErrMalformedPayload
	}
	if p.Exp*1000 < now.UnixMilli() {
		return Payload{}, ErrTokenExpired
	}
	return p, nil
}

func sign(body, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return mac.Sum(nil)
}
