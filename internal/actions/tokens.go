package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// OIDCIssuer is the issuer of Actions OIDC ID tokens.
const OIDCIssuer = "https://token.actions.githubusercontent.com"

// BackendIDs identify the current run and job to the artifact results service.
type BackendIDs struct {
	WorkflowRunBackendID    string
	WorkflowJobRunBackendID string
}

// ParseBackendIDs extracts the backend ids from the runtime token's "scp"
// claim ("Actions.Results:<run>:<job>"). The runner already trusts this token,
// so its signature is not checked here.
func ParseBackendIDs(runtimeToken string) (BackendIDs, error) {
	if runtimeToken == "" {
		return BackendIDs{}, fmt.Errorf("actions: ACTIONS_RUNTIME_TOKEN not set")
	}
	tok, err := jwt.ParseSigned(runtimeToken, []jose.SignatureAlgorithm{jose.RS256, jose.RS512, jose.ES256, jose.HS256})
	if err != nil {
		return BackendIDs{}, fmt.Errorf("actions: parse runtime token: %w", err)
	}
	var claims struct {
		Scp string `json:"scp"`
	}
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return BackendIDs{}, fmt.Errorf("actions: runtime token claims: %w", err)
	}

	for _, scope := range strings.Fields(claims.Scp) {
		parts := strings.Split(scope, ":")
		if len(parts) != 3 || parts[0] != "Actions.Results" {
			continue
		}
		if parts[1] == "" || parts[2] == "" {
			break
		}
		return BackendIDs{WorkflowRunBackendID: parts[1], WorkflowJobRunBackendID: parts[2]}, nil
	}
	return BackendIDs{}, fmt.Errorf("actions: runtime token has no Actions.Results scope")
}

// IDClaims are the Actions OIDC token claims the bot cares about.
type IDClaims struct {
	Subject    string `json:"sub"`
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	SHA        string `json:"sha"`
	RunID      string `json:"run_id"`
}

// IDTokenSource requests OIDC ID tokens from the runner.
type IDTokenSource struct {
	RequestURL   string
	RequestToken string
	HTTPClient   *http.Client
}

// NewIDTokenSource returns a source for the runner's OIDC token endpoint.
func NewIDTokenSource(c Context, hc *http.Client) *IDTokenSource {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &IDTokenSource{RequestURL: c.IDTokenRequestURL, RequestToken: c.IDTokenRequestToken, HTTPClient: hc}
}

// Fetch requests a raw ID token for audience. The job needs
// "permissions: id-token: write" for the runner to expose the endpoint.
func (s *IDTokenSource) Fetch(ctx context.Context, audience string) (string, error) {
	if s.RequestURL == "" || s.RequestToken == "" {
		return "", fmt.Errorf("actions: OIDC token endpoint not available (missing id-token permission?)")
	}
	u, err := url.Parse(s.RequestURL)
	if err != nil {
		return "", fmt.Errorf("actions: invalid OIDC request URL: %w", err)
	}
	if audience != "" {
		q := u.Query()
		q.Set("audience", audience)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("actions: build OIDC request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.RequestToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("actions: OIDC request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("actions: OIDC request: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("actions: decode OIDC response: %w", err)
	}
	if body.Value == "" {
		return "", fmt.Errorf("actions: OIDC response has no token")
	}
	return body.Value, nil
}

// NewIDTokenVerifier discovers the Actions issuer and returns a verifier for
// tokens minted for audience.
func NewIDTokenVerifier(ctx context.Context, audience string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, OIDCIssuer)
	if err != nil {
		return nil, fmt.Errorf("actions: OIDC discovery: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: audience}), nil
}

// VerifyIDToken checks raw against verifier and that it was minted for
// repository.
func VerifyIDToken(ctx context.Context, verifier *oidc.IDTokenVerifier, raw, repository string) (IDClaims, error) {
	tok, err := verifier.Verify(ctx, raw)
	if err != nil {
		return IDClaims{}, fmt.Errorf("actions: verify ID token: %w", err)
	}
	var claims IDClaims
	if err := tok.Claims(&claims); err != nil {
		return IDClaims{}, fmt.Errorf("actions: ID token claims: %w", err)
	}
	if repository != "" && !strings.EqualFold(claims.Repository, repository) {
		return IDClaims{}, fmt.Errorf("actions: ID token minted for %q, want %q", claims.Repository, repository)
	}
	return claims, nil
}
