package gateway

import (
	"encoding/base64"
	"time"
)

const timestampLayout = "20060102150405"

// Credentials derives the Daraja STK push password for the given shortcode
// and passkey. The timestamp is the process-local clock formatted as
// YYYYMMDDHHmmss and must be submitted alongside the password.
func Credentials(shortcode, passkey string, now time.Time) (password, timestamp string) {
	timestamp = now.Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
	return password, timestamp
}

// BasicAuth encodes key:secret for the OAuth token endpoint's Basic
// authorization header.
func BasicAuth(key, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(key + ":" + secret))
}
