package conduit

import (
	"context"
	"crypto/sha1" // #nosec G505 -- required by the conduit.connect signature scheme
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ClientName and ClientVersion identify this client to conduit.connect.
const (
	ClientName    = "its-phabricator"
	ClientVersion = 7
)

// Authenticator produces the "__conduit__" block sent with authenticated
// calls. Implementations are not safe for concurrent use.
type Authenticator interface {
	// Params returns the authentication block. It may call conn to establish
	// a session on first use.
	Params(ctx context.Context, conn *Connection) (map[string]any, error)

	// Reset discards any cached session state.
	Reset()
}

// StaticToken authenticates every call with a Conduit API token.
type StaticToken struct {
	Token string
}

// Params returns {"token": Token}.
func (s StaticToken) Params(context.Context, *Connection) (map[string]any, error) {
	return map[string]any{"token": s.Token}, nil
}

// Reset is a no-op; a static token has no session.
func (StaticToken) Reset() {}

// LegacySession authenticates through the conduit.connect handshake used by
// older Phabricator installs: the user's certificate signs the current time,
// and the returned session key is reused until Reset.
type LegacySession struct {
	User        string
	Certificate string
	Host        string

	// Now returns the signing time. Nil means time.Now.
	Now func() time.Time

	sessionKey   string
	connectionID int64
}

// Signature computes the conduit.connect authSignature: the lowercase hex
// SHA-1 digest of authToken followed by the certificate.
func Signature(authToken, certificate string) string {
	sum := sha1.Sum([]byte(authToken + certificate)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// Params returns the session block, connecting first if needed.
func (l *LegacySession) Params(ctx context.Context, conn *Connection) (map[string]any, error) {
	if l.sessionKey == "" {
		if err := l.connect(ctx, conn); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"sessionKey":   l.sessionKey,
		"connectionID": l.connectionID,
	}, nil
}

// Reset drops the cached session key so the next call reconnects.
func (l *LegacySession) Reset() {
	l.sessionKey = ""
	l.connectionID = 0
}

// SessionKey returns the cached session key, if any.
func (l *LegacySession) SessionKey() string {
	return l.sessionKey
}

func (l *LegacySession) connect(ctx context.Context, conn *Connection) error {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	authToken := strconv.FormatInt(now().Unix(), 10)

	params := map[string]any{
		"client":        ClientName,
		"clientVersion": ClientVersion,
		"user":          l.User,
		"host":          l.Host,
		"authToken":     authToken,
		"authSignature": Signature(authToken, l.Certificate),
	}
	raw, err := conn.Call(ctx, "conduit.connect", params, nil)
	if err != nil {
		return fmt.Errorf("conduit connect as %s: %w", l.User, err)
	}

	var result struct {
		SessionKey   string `json:"sessionKey"`
		ConnectionID int64  `json:"connectionID"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return &ProtocolError{Method: "conduit.connect", Err: fmt.Errorf("parse session: %w", err)}
	}
	if result.SessionKey == "" {
		return &ProtocolError{Method: "conduit.connect", Err: errors.New("empty session key")}
	}
	l.sessionKey = result.SessionKey
	l.connectionID = result.ConnectionID
	return nil
}
