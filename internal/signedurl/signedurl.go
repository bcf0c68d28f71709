// Package signedurl issues and verifies stateless download capabilities. A capability is a
// storage key plus an expiry, authenticated with HMAC-SHA256 over "key:expiresAt". Holding
// a valid token is sufficient for access; there is no revocation before expiry.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const DefaultExpiresIn = 60 * time.Second

var ErrMalformed = errors.New("malformed signed url")

// Result is the outcome of Verify.
type Result int

const (
	Valid Result = iota
	Expired
	InvalidSignature
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case InvalidSignature:
		return "invalid_signature"
	default:
		return "unknown"
	}
}

// Token is a capability. DisplayName and ContentType travel with it but are not signed,
// so consumers must treat them as untrusted hints.
type Token struct {
	Key         string
	ExpiresAt   int64
	Signature   string
	DisplayName string
	ContentType string
}

type IssueOptions struct {
	ExpiresIn   time.Duration // DefaultExpiresIn when zero; rounded up to whole seconds
	DisplayName string
	ContentType string
}

// Issuer signs with a process-wide secret. It is safe for concurrent use.
type Issuer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

type Option func(*Issuer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an issuer that builds links against baseURL, the absolute URL of the
// download endpoint.
func NewIssuer(secret, baseURL string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("signedurl: empty signing secret")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("signedurl: base url: %w", err)
	}
	i := &Issuer{secret: []byte(secret), baseURL: baseURL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func payload(key string, expiresAt int64) string {
	return key + ":" + strconv.FormatInt(expiresAt, 10)
}

// Sign returns the hex HMAC-SHA256 of payload.
func (i *Issuer) Sign(payload string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (i *Issuer) Issue(key string, opts IssueOptions) Token {
	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	// Whole seconds, rounded up, so a sub-second lifetime still yields a usable token.
	exp := i.now().Unix() + int64((expiresIn+time.Second-1)/time.Second)
	return Token{
		Key:         key,
		ExpiresAt:   exp,
		Signature:   i.Sign(payload(key, exp)),
		DisplayName: opts.DisplayName,
		ContentType: opts.ContentType,
	}
}

// Verify checks expiry before the signature so stale tokens cost no hashing. The signature
// comparison is constant time.
func (i *Issuer) Verify(key string, expiresAt int64, signature string) Result {
	if i.now().Unix() > expiresAt {
		return Expired
	}
	expected := i.Sign(payload(key, expiresAt))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return InvalidSignature
	}
	return Valid
}

// URL renders t as {baseURL}?key=..&exp=..&sig=..[&name=..][&type=..].
func (i *Issuer) URL(t Token) string {
	u, _ := url.Parse(i.baseURL)
	q := u.Query()
	q.Set("key", t.Key)
	q.Set("exp", strconv.FormatInt(t.ExpiresAt, 10))
	q.Set("sig", t.Signature)
	if t.DisplayName != "" {
		q.Set("name", t.DisplayName)
	}
	if t.ContentType != "" {
		q.Set("type", t.ContentType)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IssueURL is Issue followed by URL.
func (i *Issuer) IssueURL(key string, opts IssueOptions) string {
	return i.URL(i.Issue(key, opts))
}

// FromQuery extracts a token from download query parameters.
func FromQuery(q url.Values) (Token, error) {
	t := Token{
		Key:         q.Get("key"),
		Signature:   q.Get("sig"),
		DisplayName: q.Get("name"),
		ContentType: q.Get("type"),
	}
	if t.Key == "" || t.Signature == "" {
		return Token{}, fmt.Errorf("%w: missing key or sig", ErrMalformed)
	}
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: exp: %v", ErrMalformed, err)
	}
	t.ExpiresAt = exp
	return t, nil
}

// Parse extracts a token from a full signed URL.
func Parse(raw string) (Token, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromQuery(u.Query())
}
