package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Role is the permission level a video client token grants inside a session.
type Role string

const (
	RoleSubscriber Role = "subscriber"
	RolePublisher  Role = "publisher"
	RoleModerator  Role = "moderator"
)

const clientTokenPrefix = "T1=="

// maxConnectionData is the provider's limit on connection data attached to a token.
const maxConnectionData = 1000

var ErrConnectionDataTooLong = errors.New("connection data exceeds 1000 bytes")

// ClientToken is the decoded form of a video session client token.
type ClientToken struct {
	APIKey         string
	SessionID      string
	Role           Role
	ConnectionData string
	CreateTime     time.Time
	ExpireTime     time.Time
}

// ClientTokenOptions controls what a minted client token carries.
type ClientTokenOptions struct {
	Role           Role
	ConnectionData string
	TTL            time.Duration
	Now            time.Time
}

// GenerateClientToken mints a "T1==" token for sessionID signed with the
// project secret. Defaults: publisher role, 24h lifetime.
func GenerateClientToken(apiKey, apiSecret, sessionID string, opts ClientTokenOptions) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	if len(opts.ConnectionData) > maxConnectionData {
		return "", ErrConnectionDataTooLong
	}
	role := opts.Role
	if role == "" {
		role = RolePublisher
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	nonce, err := rand.Int(rand.Reader, big.NewInt(999999))
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("create_time", strconv.FormatInt(now.Unix(), 10))
	q.Set("expire_time", strconv.FormatInt(now.Add(ttl).Unix(), 10))
	q.Set("role", string(role))
	q.Set("nonce", nonce.String())
	if opts.ConnectionData != "" {
		q.Set("connection_data", opts.ConnectionData)
	}
	data := q.Encode()

	sig := hex.EncodeToString(sign1(apiSecret, data))
	raw := "partner_id=" + url.QueryEscape(apiKey) + "&sig=" + sig + ":" + data
	return clientTokenPrefix + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

// ParseClientToken verifies token against the project secret and decodes it.
func ParseClientToken(apiSecret, token string) (ClientToken, error) {
	if !strings.HasPrefix(token, clientTokenPrefix) {
		return ClientToken{}, ErrTokenFormat
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, clientTokenPrefix))
	if err != nil {
		return ClientToken{}, ErrTokenFormat
	}
	head, data, ok := strings.Cut(string(b), ":")
	if !ok {
		return ClientToken{}, ErrTokenFormat
	}
	hq, err := url.ParseQuery(head)
	if err != nil {
		return ClientToken{}, ErrTokenFormat
	}
	got, err := hex.DecodeString(hq.Get("sig"))
	if err != nil {
		return ClientToken{}, ErrTokenFormat
	}
	if !hmac.Equal(sign1(apiSecret, data), got) {
		return ClientToken{}, ErrTokenSig
	}
	dq, err := url.ParseQuery(data)
	if err != nil {
		return ClientToken{}, ErrTokenFormat
	}
	created, err := strconv.ParseInt(dq.Get("create_time"), 10, 64)
	if err != nil {
		return ClientToken{}, fmt.Errorf("%w: create_time", ErrTokenFormat)
	}
	expires, err := strconv.ParseInt(dq.Get("expire_time"), 10, 64)
	if err != nil {
		return ClientToken{}, fmt.Errorf("%w: expire_time", ErrTokenFormat)
	}
	return ClientToken{
		APIKey:         hq.Get("partner_id"),
		SessionID:      dq.Get("session_id"),
		Role:           Role(dq.Get("role")),
		ConnectionData: dq.Get("connection_data"),
		CreateTime:     time.Unix(created, 0),
		ExpireTime:     time.Unix(expires, 0),
	}, nil
}

func sign1(secret, msg string) []byte {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
