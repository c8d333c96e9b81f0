package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerProvider fetches secrets from AWS Secrets Manager. Only the
// current version of a secret is ever requested.
type SecretsManagerProvider struct {
	client *secretsmanager.Client
}

// NewSecretsManagerProvider builds a provider for the given region using the
// default AWS credential chain.
func NewSecretsManagerProvider(ctx context.Context, region string) (*SecretsManagerProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SecretsManagerProvider{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Fetch retrieves the current value of the named secret.
func (p *SecretsManagerProvider) Fetch(ctx context.Context, name string) (Value, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return Value{}, fmt.Errorf("fetch secret %q: %w", name, err)
	}
	if out.SecretString != nil {
		return NewValue([]byte(*out.SecretString)), nil
	}
	if out.SecretBinary != nil {
		return NewValue(out.SecretBinary), nil
	}
	return Value{}, fmt.Errorf("secret %q has no value", name)
}
