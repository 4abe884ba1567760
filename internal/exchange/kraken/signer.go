package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
)

// signer implements pkg/http's Signer interface with Kraken's standard
// private-endpoint authentication: HMAC-SHA512 over the request path and
// SHA256(nonce + POST body), keyed by the base64-decoded API secret.
type signer struct {
	apiKey    string
	apiSecret string
}

func newSigner(apiKey, apiSecret string) *signer {
	return &signer{apiKey: apiKey, apiSecret: apiSecret}
}

// SignRequest sets API-Key and API-Sign headers on req. req.Body must
// already be a url.Values-encoded POST body containing a "nonce" field.
func (s *signer) SignRequest(req *http.Request) error {
	if req.Body == nil {
		return fmt.Errorf("cannot sign a request without a body")
	}

	values, err := url.ParseQuery(req.URL.RawQuery)
	if err != nil {
		return fmt.Errorf("failed to parse signed request query: %w", err)
	}
	nonce := values.Get("nonce")

	secret, err := base64.StdEncoding.DecodeString(s.apiSecret)
	if err != nil {
		return fmt.Errorf("invalid API secret encoding: %w", err)
	}

	sha := sha256.New()
	sha.Write([]byte(nonce + values.Encode()))
	shaSum := sha.Sum(nil)

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(req.URL.Path))
	mac.Write(shaSum)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("API-Key", s.apiKey)
	req.Header.Set("API-Sign", signature)
	return nil
}
