package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenRoom   = errors.New("room id mismatch")
)

// GenerateViewerToken builds a token that lets an observer follow a room's event feed.
// Format: base64url(room_id + "." + exp_unix + "." + hex(hmac_sha256(secret, room_id+"."+exp)))
func GenerateViewerToken(secret, roomID string, expUnix int64) string {
	msg := roomID + "." + strconv.FormatInt(expUnix, 10)
	raw := msg + "." + hex.EncodeToString(sign256(secret, msg))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ValidateViewerToken parses and validates the token.
// Returns the embedded room id and exp.
func ValidateViewerToken(secret, token, expectRoomID string, now time.Time, skewSeconds int) (string, int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	// room ids may contain dots, the last two fields never do
	raw := string(b)
	i := strings.LastIndex(raw, ".")
	if i <= 0 {
		return "", 0, ErrTokenFormat
	}
	msg, sigHex := raw[:i], raw[i+1:]
	j := strings.LastIndex(msg, ".")
	if j <= 0 {
		return "", 0, ErrTokenFormat
	}
	room, expStr := msg[:j], msg[j+1:]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	if expectRoomID != "" && room != expectRoomID {
		return "", 0, ErrTokenRoom
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	if !hmac.Equal(sign256(secret, msg), got) {
		return "", 0, ErrTokenSig
	}
	if now.Unix() > exp+int64(skewSeconds) {
		return "", 0, ErrTokenExp
	}
	return room, exp, nil
}

func sign256(secret, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
