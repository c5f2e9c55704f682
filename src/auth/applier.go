package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
)

// RequestState collects the mutable parts of an outgoing request that
// credentials can be injected into. Transports translate it back into
// their own wire format after Apply.
type RequestState struct {
	Headers http.Header
	Query   url.Values
	Cookies []*http.Cookie
}

// NewRequestState returns an empty RequestState.
func NewRequestState() *RequestState {
	return &RequestState{Headers: http.Header{}, Query: url.Values{}}
}

// BasicCredentials is returned from Apply for basic auth so HTTP-native
// transports can use Request.SetBasicAuth instead of hand-rolled headers.
type BasicCredentials struct {
	Username string
	Password string
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// Applier injects credentials into request state. One applier owns one
// OAuth2 token cache; transports keep an applier for their lifetime so
// tokens are reused across calls.
type Applier struct {
	httpClient *http.Client
	logger     func(format string, args ...interface{})

	mu     sync.Mutex
	tokens map[string]cachedToken // keyed by client_id
}

// NewApplier constructs an Applier. A nil client gets a 10s-timeout default.
func NewApplier(client *http.Client, logger func(format string, args ...interface{})) *Applier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Applier{
		httpClient: client,
		logger:     logger,
		tokens:     make(map[string]cachedToken),
	}
}

// Apply writes the credential into st. For basic auth it returns the
// credential pair instead so the caller can apply it natively.
func (ap *Applier) Apply(ctx context.Context, a Auth, st *RequestState) (*BasicCredentials, error) {
	if a == nil {
		return nil, nil
	}
	switch cred := a.(type) {
	case *ApiKeyAuth:
		if cred.APIKey == "" {
			return nil, errors.New("api key for ApiKeyAuth not found")
		}
		switch strings.ToLower(cred.Location) {
		case "header", "":
			st.Headers.Set(cred.VarName, cred.APIKey)
		case "query":
			st.Query.Set(cred.VarName, cred.APIKey)
		case "cookie":
			st.Cookies = append(st.Cookies, &http.Cookie{Name: cred.VarName, Value: cred.APIKey})
		default:
			return nil, fmt.Errorf("unsupported api key location %q", cred.Location)
		}
		return nil, nil
	case *BasicAuth:
		return &BasicCredentials{Username: cred.Username, Password: cred.Password}, nil
	case *OAuth2Auth:
		token, err := ap.OAuth2Token(ctx, cred)
		if err != nil {
			return nil, err
		}
		st.Headers.Set("Authorization", "Bearer "+token)
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", a.Type())
	}
}

// OAuth2Token returns a bearer token for the client-credentials flow,
// reusing a cached token until it expires. The endpoint is tried twice:
// first with credentials in the form body, then with an HTTP Basic header.
func (ap *Applier) OAuth2Token(ctx context.Context, cred *OAuth2Auth) (string, error) {
	ap.mu.Lock()
	entry, ok := ap.tokens[cred.ClientID]
	ap.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.accessToken, nil
	}

	scope := ""
	if cred.Scope != nil {
		scope = *cred.Scope
	}

	// Credentials in the request body.
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)
	if scope != "" {
		form.Set("scope", scope)
	}
	token, bodyErr := ap.fetchToken(ctx, cred, form, false)
	if bodyErr == nil {
		return token, nil
	}
	ap.logger("[OAuth2] body credentials rejected for %s, retrying with basic header: %v", cred.TokenURL, bodyErr)

	// Credentials moved to an HTTP Basic header.
	form = url.Values{}
	form.Set("grant_type", "client_credentials")
	if scope != "" {
		form.Set("scope", scope)
	}
	token, headerErr := ap.fetchToken(ctx, cred, form, true)
	if headerErr == nil {
		return token, nil
	}
	return "", headerErr
}

func (ap *Applier) fetchToken(ctx context.Context, cred *OAuth2Auth, form url.Values, basicHeader bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicHeader {
		req.SetBasicAuth(cred.ClientID, cred.ClientSecret)
	}

	resp, err := ap.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token endpoint %s returned %s", cred.TokenURL, resp.Status)
	}

	var payload struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("access_token not found in OAuth2 response")
	}

	ttl := payload.ExpiresIn
	if ttl == 0 {
		ttl = 300
	}
	ap.mu.Lock()
	ap.tokens[cred.ClientID] = cachedToken{
		accessToken: payload.AccessToken,
		expiresAt:   time.Now().Add(time.Duration(ttl)*time.Second - 10*time.Second),
	}
	ap.mu.Unlock()
	return payload.AccessToken, nil
}

// Close drops all cached tokens.
func (ap *Applier) Close() {
	ap.mu.Lock()
	ap.tokens = make(map[string]cachedToken)
	ap.mu.Unlock()
}
