// Package aws provides shared AWS configuration and authentication helpers.
package aws

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSAudience is the audience AWS expects on web identity tokens.
const STSAudience = "sts.amazonaws.com"

var roleARNRe = regexp.MustCompile(`^arn:aws:iam::\d{12}:role/.+$`)

// ValidateRoleARN checks that the ARN looks like a valid IAM role ARN.
func ValidateRoleARN(arn string) error {
	if !roleARNRe.MatchString(arn) {
		return fmt.Errorf("invalid IAM role ARN: %q", arn)
	}
	return nil
}

// TokenFetcher mints OIDC ID tokens for an audience.
type TokenFetcher interface {
	Fetch(ctx context.Context, audience string) (string, error)
}

// WebIdentity configures role assumption with an OIDC token.
type WebIdentity struct {
	RoleARN     string
	SessionName string
	Tokens      TokenFetcher
}

// NewAWSConfig creates an aws.Config for region. With a web identity the role
// is assumed via AssumeRoleWithWebIdentity; with only roleARN it is assumed
// from the default credential chain.
func NewAWSConfig(ctx context.Context, region, roleARN string, wi *WebIdentity) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws auth: load config: %w", err)
	}

	switch {
	case wi != nil:
		if err := ValidateRoleARN(wi.RoleARN); err != nil {
			return aws.Config{}, fmt.Errorf("aws auth: %w", err)
		}
		stsClient := sts.NewFromConfig(cfg)
		provider := stscreds.NewWebIdentityRoleProvider(stsClient, wi.RoleARN,
			&tokenRetriever{ctx: ctx, fetcher: wi.Tokens},
			func(o *stscreds.WebIdentityRoleOptions) {
				if wi.SessionName != "" {
					o.RoleSessionName = wi.SessionName
				}
			})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	case roleARN != "":
		stsClient := sts.NewFromConfig(cfg)
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, roleARN))
	}

	return cfg, nil
}

// tokenRetriever adapts a TokenFetcher to stscreds.IdentityTokenRetriever,
// which carries no context of its own.
type tokenRetriever struct {
	ctx     context.Context
	fetcher TokenFetcher
}

func (r *tokenRetriever) GetIdentityToken() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 30*time.Second)
	defer cancel()
	tok, err := r.fetcher.Fetch(ctx, STSAudience)
	if err != nil {
		return nil, fmt.Errorf("aws auth: web identity token: %w", err)
	}
	return []byte(tok), nil
}
