package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jws"

	"geminiclient-go/apierr"
	"geminiclient-go/internal/constants"
)

// ServiceAccount is the subset of a Google service-account JSON key used
// for the assertion flow. The file is read, never written.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads the key material from a file path or inline
// JSON, whichever is set. Path wins when both are present.
func LoadServiceAccount(path, inlineJSON string) (*ServiceAccount, error) {
	var data []byte
	switch {
	case path != "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindConfig, fmt.Sprintf("read service account %s", path), err)
		}
		data = raw
	case inlineJSON != "":
		data = []byte(inlineJSON)
	default:
		return nil, apierr.New(apierr.KindConfig, "no service account configured")
	}

	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, apierr.Wrap(apierr.KindConfig, "parse service account JSON", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, apierr.New(apierr.KindConfig, "service account JSON missing client_email or private_key")
	}
	return &sa, nil
}

// rsaKey decodes the PEM private key, trying PKCS#8 first with a PKCS#1
// fallback for older key files.
func (sa *ServiceAccount) rsaKey() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(sa.PrivateKey))
	if block == nil {
		return nil, apierr.New(apierr.KindConfig, "service account private_key is not PEM")
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, apierr.New(apierr.KindConfig, "service account key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConfig, "parse service account private key", err)
	}
	return key, nil
}

// tokenURL resolves the exchange endpoint: explicit override, then the
// key's token_uri, then the Google default.
func (sa *ServiceAccount) tokenURL(override string) string {
	if override != "" {
		return override
	}
	if sa.TokenURI != "" {
		return sa.TokenURI
	}
	return constants.DefaultTokenURL
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// exchange signs a JWT assertion with the service-account key and trades
// it for an access token at the token endpoint.
func exchange(ctx context.Context, client *http.Client, sa *ServiceAccount, tokenURLOverride string, now time.Time) (*oauth2.Token, error) {
	key, err := sa.rsaKey()
	if err != nil {
		return nil, err
	}
	endpoint := sa.tokenURL(tokenURLOverride)

	assertion, err := jws.Encode(
		&jws.Header{Algorithm: "RS256", Typ: "JWT"},
		&jws.ClaimSet{
			Iss:   sa.ClientEmail,
			Scope: constants.OAuthScope,
			Aud:   endpoint,
			Iat:   now.Unix(),
			Exp:   now.Add(constants.JWTAssertionLifetime).Unix(),
		},
		key,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "sign service account assertion", err)
	}

	form := url.Values{
		"grant_type": {constants.JWTBearerGrantType},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "token exchange", apierr.MapNetwork(err)).
			WithContext("url", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Wrap(apierr.KindAuth, "token exchange rejected", apierr.MapStatus(resp.StatusCode, body)).
			WithStatus(resp.StatusCode).
			WithContext("url", endpoint)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, "decode token response", err)
	}
	if tr.AccessToken == "" {
		return nil, apierr.New(apierr.KindAuth, "token response missing access_token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = 3600
	}

	log.WithFields(log.Fields{
		"client_email": sa.ClientEmail,
		"expires_in":   tr.ExpiresIn,
	}).Debug("service account token exchanged")

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   "Bearer",
		Expiry:      now.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
