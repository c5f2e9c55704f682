// Package auth defines the credential descriptors carried by call templates
// and the applier that injects them into outgoing requests.
package auth

import (
	"errors"
	"fmt"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
)

// AuthType discriminates the credential descriptor variants.
type AuthType string

const (
	// APIKeyType indicates API key based authentication.
	APIKeyType AuthType = "api_key"

	// BasicType indicates basic username/password authentication.
	BasicType AuthType = "basic"

	// OAuth2Type indicates OAuth2 client-credentials authentication.
	OAuth2Type AuthType = "oauth2"
)

// Auth is the interface all credential descriptors implement.
type Auth interface {
	// Type returns the discriminator.
	Type() AuthType

	// Validate checks that all required fields are set.
	Validate() error
}

// ApiKeyAuth places a fixed key into a header, query parameter or cookie.
type ApiKeyAuth struct {
	AuthType AuthType `json:"auth_type"`
	APIKey   string   `json:"api_key"`
	VarName  string   `json:"var_name"` // Header/query/cookie name (default "X-Api-Key").
	Location string   `json:"location"` // "header", "query" or "cookie".
}

// NewApiKeyAuth constructs an ApiKeyAuth with defaults.
func NewApiKeyAuth(apiKey string) *ApiKeyAuth {
	return &ApiKeyAuth{
		AuthType: APIKeyType,
		APIKey:   apiKey,
		VarName:  "X-Api-Key",
		Location: "header",
	}
}

func (a *ApiKeyAuth) Type() AuthType { return APIKeyType }

func (a *ApiKeyAuth) Validate() error {
	if a.APIKey == "" {
		return errors.New("api_key must be provided")
	}
	switch a.Location {
	case "header", "query", "cookie":
	default:
		return errors.New("location must be 'header', 'query', or 'cookie'")
	}
	return nil
}

// BasicAuth holds HTTP basic credentials.
type BasicAuth struct {
	AuthType AuthType `json:"auth_type"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

// NewBasicAuth constructs a BasicAuth.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{AuthType: BasicType, Username: username, Password: password}
}

func (b *BasicAuth) Type() AuthType { return BasicType }

func (b *BasicAuth) Validate() error {
	if b.Username == "" {
		return errors.New("username must be provided")
	}
	if b.Password == "" {
		return errors.New("password must be provided")
	}
	return nil
}

// OAuth2Auth holds client-credentials flow configuration.
type OAuth2Auth struct {
	AuthType     AuthType `json:"auth_type"`
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scope        *string  `json:"scope,omitempty"`
}

// NewOAuth2Auth constructs an OAuth2Auth.
func NewOAuth2Auth(tokenURL, clientID, clientSecret string, scope *string) *OAuth2Auth {
	return &OAuth2Auth{
		AuthType:     OAuth2Type,
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        scope,
	}
}

func (o *OAuth2Auth) Type() AuthType { return OAuth2Type }

func (o *OAuth2Auth) Validate() error {
	if o.TokenURL == "" {
		return errors.New("token_url must be provided")
	}
	if o.ClientID == "" {
		return errors.New("client_id must be provided")
	}
	if o.ClientSecret == "" {
		return errors.New("client_secret must be provided")
	}
	return nil
}

// UnmarshalAuth inspects "auth_type" and decodes the matching variant.
func UnmarshalAuth(data []byte) (Auth, error) {
	var head struct {
		AuthType AuthType `json:"auth_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.AuthType {
	case APIKeyType:
		a := &ApiKeyAuth{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, err
		}
		if a.VarName == "" {
			a.VarName = "X-Api-Key"
		}
		if a.Location == "" {
			a.Location = "header"
		}
		return a, nil
	case BasicType:
		a := &BasicAuth{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	case OAuth2Type:
		a := &OAuth2Auth{}
		if err := json.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported auth_type %q", head.AuthType)
	}
}

// UnmarshalAuthFromMap decodes a descriptor embedded as a generic map,
// e.g. an x-utcp-auth OpenAPI extension.
func UnmarshalAuthFromMap(m map[string]interface{}) (Auth, error) {
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return UnmarshalAuth(blob)
}
