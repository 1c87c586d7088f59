// Package oauth implements the consumer-only OAuth 1.0a HMAC-SHA1 signing used
// by the search client. There is no token secret in this flow, so the signing
// key is always percent-encode(consumer secret) followed by "&".
package oauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const (
	SignatureMethod = "HMAC-SHA1"
	Version         = "1.0"
)

// Protocol parameter names.
const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamNonce           = "oauth_nonce"
	ParamSignature       = "oauth_signature"
	ParamSignatureMethod = "oauth_signature_method"
	ParamTimestamp       = "oauth_timestamp"
	ParamVersion         = "oauth_version"
)

// Credentials is the consumer key/secret pair of the application.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
}

// Validate fails with a *upstream.ConfigurationError when either half is empty.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ConsumerKey) == "" {
		return &upstream.ConfigurationError{Field: "TWITTER_API_KEY"}
	}
	if strings.TrimSpace(c.ConsumerSecret) == "" {
		return &upstream.ConfigurationError{Field: "TWITTER_API_SECRET"}
	}
	return nil
}

// PercentEncode encodes s per RFC 3986: every byte outside the unreserved set
// (ALPHA / DIGIT / "-" / "." / "_" / "~") becomes %XX with uppercase hex.
func PercentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0F])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

type pair struct {
	key   string
	value string
}

// encodedPairs percent-encodes every key and value and sorts by encoded key,
// then encoded value.
func encodedPairs(params map[string]string) []pair {
	pairs := make([]pair, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, pair{key: PercentEncode(k), value: PercentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})
	return pairs
}

// NormalizeParams returns the sorted "k=v&k=v" parameter string.
func NormalizeParams(params map[string]string) string {
	pairs := encodedPairs(params)
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// BaseString builds METHOD&enc(url)&enc(normalized params).
func BaseString(method, rawURL string, params map[string]string) string {
	return strings.ToUpper(method) + "&" + PercentEncode(rawURL) + "&" + PercentEncode(NormalizeParams(params))
}

// SigningKey is enc(consumerSecret) + "&".
func SigningKey(consumerSecret string) string {
	return PercentEncode(consumerSecret) + "&"
}

// Sign returns base64(HMAC-SHA1(signing key, base string)). params must hold
// both the protocol and the query parameters.
func Sign(method, rawURL string, params map[string]string, consumerSecret string) string {
	mac := hmac.New(sha1.New, []byte(SigningKey(consumerSecret)))
	mac.Write([]byte(BaseString(method, rawURL, params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthorizationHeader renders `OAuth k1="v1", k2="v2"` with entries sorted by key.
func AuthorizationHeader(oauthParams map[string]string) string {
	pairs := encodedPairs(oauthParams)
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + `="` + p.value + `"`
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// Signer produces Authorization headers for one set of credentials. Now and
// Nonce may be replaced to make signatures reproducible.
type Signer struct {
	creds Credentials
	Now   func() time.Time
	Nonce func() string
}

// NewSigner validates creds and returns a Signer with a real clock and random nonces.
func NewSigner(creds Credentials) (*Signer, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return &Signer{
		creds: creds,
		Now:   time.Now,
		Nonce: RandomNonce,
	}, nil
}

// RandomNonce returns 32 random hex characters.
func RandomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ProtocolParams builds the unsigned oauth_* parameter set for one request.
func (s *Signer) ProtocolParams() map[string]string {
	return map[string]string{
		ParamConsumerKey:     s.creds.ConsumerKey,
		ParamNonce:           s.Nonce(),
		ParamSignatureMethod: SignatureMethod,
		ParamTimestamp:       strconv.FormatInt(s.Now().Unix(), 10),
		ParamVersion:         Version,
	}
}

// Authorize signs a request for method and rawURL (without query string)
// carrying query, and returns the Authorization header value.
func (s *Signer) Authorize(method, rawURL string, query map[string]string) (string, error) {
	if err := s.creds.Validate(); err != nil {
		return "", err
	}

	oauthParams := s.ProtocolParams()

	all := make(map[string]string, len(oauthParams)+len(query))
	for k, v := range oauthParams {
		all[k] = v
	}
	for k, v := range query {
		all[k] = v
	}

	oauthParams[ParamSignature] = Sign(method, rawURL, all, s.creds.ConsumerSecret)
	return AuthorizationHeader(oauthParams), nil
}
