package billing

import (
	"crypto/md5"
	"encoding/hex"
)

const defaultLocale = "cn"

// Signer produces the upstream authentication headers.
// The MD5 digest is mandated by the billing contract.
type Signer struct {
	AppID     string
	AppSecret string
	Locale    string
}

// Ciphertext returns hex(md5(AppId + TransId + Timestamp + AppSecret)).
func (s Signer) Ciphertext(transID, timestamp string) string {
	sum := md5.Sum([]byte(s.AppID + transID + timestamp + s.AppSecret))
	return hex.EncodeToString(sum[:])
}

func (s Signer) Headers(transID, timestamp string) map[string]string {
	locale := s.Locale
	if locale == "" {
		locale = defaultLocale
	}
	return map[string]string{
		"AppId":        s.AppID,
		"TransId":      transID,
		"Timestamp":    timestamp,
		"Ciphertext":   s.Ciphertext(transID, timestamp),
		"Locale":       locale,
		"Content-Type": "application/json",
	}
}
