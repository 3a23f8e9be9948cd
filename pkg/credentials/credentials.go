// Package credentials selects the credential used for the knowledge backend
// and the embedding service: a static API key or a token credential.
// Token credentials are warmed up once at startup so that the first request
// does not pay for token acquisition.
package credentials

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "credentials")

// Token scopes.
const (
	SearchScope    = "https://search.azure.com/.default"
	CognitiveScope = "https://cognitiveservices.azure.com/.default"
)

// NewDefaultCredential is a wrapper for the default token credential chain
// to allow for overriding the default implementation.
var NewDefaultCredential = func() (azcore.TokenCredential, error) {
	return azidentity.NewDefaultAzureCredential(nil)
}

// Credential is either a static key or a token credential.
type Credential struct {
	apiKey string
	key    *azcore.KeyCredential
	token  azcore.TokenCredential
}

// NewKey returns a static key credential.
func NewKey(key string) *Credential {
	return &Credential{apiKey: key, key: azcore.NewKeyCredential(key)}
}

// NewToken returns a token based credential.
func NewToken(tc azcore.TokenCredential) *Credential {
	return &Credential{token: tc}
}

// Load returns a static credential when key is set,
// otherwise the default token credential chain.
func Load(key string) (*Credential, error) {
	if key != "" {
		return NewKey(key), nil
	}
	tc, err := NewDefaultCredential()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token credential")
	}
	return NewToken(tc), nil
}

// IsStatic reports whether the credential is a static key.
func (c *Credential) IsStatic() bool {
	return c.key != nil
}

// Key returns the static key credential, or nil.
func (c *Credential) Key() *azcore.KeyCredential {
	return c.key
}

// APIKey returns the static key value, or empty string.
func (c *Credential) APIKey() string {
	return c.apiKey
}

// Token returns the token credential, or nil.
func (c *Credential) Token() azcore.TokenCredential {
	return c.token
}

// Warmup acquires a token for the scopes once.
// It is a no-op for static keys.
func (c *Credential) Warmup(ctx context.Context, scopes ...string) error {
	if c.IsStatic() {
		return nil
	}
	if c.token == nil {
		return errors.New("credential is not configured")
	}

	started := time.Now()
	tk, err := c.token.GetToken(ctx, policy.TokenRequestOptions{Scopes: scopes})
	if err != nil {
		return errors.Wrapf(err, "failed to acquire token for %v", scopes)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "token_acquired",
		"scopes", scopes,
		"expires_on", tk.ExpiresOn,
		"elapsed", time.Since(started).String(),
	)
	return nil
}
