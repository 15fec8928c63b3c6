package vtn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// accessTokenMaxAge is how old a client-credentials token can get before it is refreshed
const accessTokenMaxAge = 5 * time.Minute

// TokenProvider supplies the service bearer token
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("[VTN] bearer token is empty")
	}
	return string(s), nil
}

// OAuthClientCredentials obtains tokens with the client-credentials grant
type OAuthClientCredentials struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string

	mu                     sync.Mutex
	accessToken            string
	accessTokenLastUpdated time.Time
}

// tokenResponse is the token endpoint answer; some deployments use access_token_jwt
type tokenResponse struct {
	AccessTokenJWT string `json:"access_token_jwt"`
	AccessToken    string `json:"access_token"`
}

// NewOAuthClientCredentials creates a token provider for the given client
func NewOAuthClientCredentials(httpClient *http.Client, tokenURL, clientID, clientSecret string) *OAuthClientCredentials {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthClientCredentials{
		httpClient:   httpClient,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Token returns a cached token, fetching a new one when it has aged out
func (o *OAuthClientCredentials) Token(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.accessToken != "" && time.Since(o.accessTokenLastUpdated) < accessTokenMaxAge {
		return o.accessToken, nil
	}

	if err := o.updateAccessToken(ctx); err != nil {
		return "", fmt.Errorf("[VTN] update access token: %w", err)
	}
	return o.accessToken, nil
}

func (o *OAuthClientCredentials) updateAccessToken(ctx context.Context) error {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(o.clientID, o.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return &StatusError{Op: "token", StatusCode: response.StatusCode}
	}

	parsed := tokenResponse{}
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("parse body: %w", err)
	}

	token := parsed.AccessTokenJWT
	if token == "" {
		token = parsed.AccessToken
	}
	if token == "" {
		return fmt.Errorf("token response carries no access token")
	}

	o.accessToken = token
	o.accessTokenLastUpdated = time.Now()
	return nil
}
