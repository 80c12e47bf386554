package kucoin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

const _keyVersion = "2"

// Signer builds KC-API-* headers: the signature covers timestamp, method,
// request target and body; the passphrase is signed with the same secret.
type Signer struct {
	key        string
	secret     []byte
	passphrase string
	now        func() time.Time
}

func NewSigner(key, secret, passphrase string) *Signer {
	s := &Signer{
		key:    key,
		secret: []byte(secret),
		now:    time.Now,
	}
	s.passphrase = s.sign(passphrase)
	return s
}

func (s *Signer) Sign(method, target string, body []byte) map[string]string {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return map[string]string{
		"KC-API-KEY":         s.key,
		"KC-API-SIGN":        s.sign(ts + method + target + string(body)),
		"KC-API-TIMESTAMP":   ts,
		"KC-API-PASSPHRASE":  s.passphrase,
		"KC-API-KEY-VERSION": _keyVersion,
	}
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
