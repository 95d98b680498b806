package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/singleflight"
)

// SecretRef points at a password kept outside the server store.
// Exactly one of AwsSecretArn, InsecureValue, or EnvVar must be set.
type SecretRef struct {
	// AwsSecretArn is the ARN of an AWS Secrets Manager secret holding a JSON
	// object. Key selects the field to use.
	AwsSecretArn string `json:"aws_secret_arn,omitempty"`
	Key          string `json:"key,omitempty"`

	// InsecureValue is a plaintext secret value. Use only for development.
	InsecureValue string `json:"insecure_value,omitempty"`

	// EnvVar is the name of an environment variable containing the secret.
	EnvVar string `json:"env_var,omitempty"`
}

// ParseSecretRef decodes a SecretRef from its stored JSON form and validates it.
func ParseSecretRef(s string) (SecretRef, error) {
	var ref SecretRef
	if err := json.Unmarshal([]byte(s), &ref); err != nil {
		return SecretRef{}, fmt.Errorf("invalid secret ref: %w", err)
	}
	return ref, ref.Validate()
}

// String returns the stored JSON form. Insecure values are included, so do
// not log it.
func (r SecretRef) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// IsZero reports whether no source is set.
func (r SecretRef) IsZero() bool {
	return r == SecretRef{}
}

// Validate checks that exactly one secret source is configured.
func (r SecretRef) Validate() error {
	sources := 0
	if r.AwsSecretArn != "" {
		sources++
	}
	if r.InsecureValue != "" {
		sources++
	}
	if r.EnvVar != "" {
		sources++
	}

	if sources == 0 {
		return errors.New("secret ref must have one of: aws_secret_arn, insecure_value, or env_var")
	}
	if sources > 1 {
		return errors.New("secret ref must have only one of: aws_secret_arn, insecure_value, or env_var")
	}
	if r.AwsSecretArn != "" && r.Key == "" {
		return errors.New("aws_secret_arn requires key to be set")
	}
	return nil
}

// SecretsManagerClient is the subset of the AWS Secrets Manager API used
// here. Tests inject a fake.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretCache resolves SecretRefs. AWS secrets are fetched once per ARN and
// kept for the life of the process; concurrent first lookups of an ARN
// share one fetch.
type SecretCache struct {
	mu      sync.Mutex
	secrets map[string]map[string]any
	client  SecretsManagerClient
	fetches singleflight.Group

	// newClient builds client on first AWS lookup when client is nil.
	newClient func(ctx context.Context) (SecretsManagerClient, error)
}

// NewSecretCache creates a SecretCache with the given Secrets Manager client.
func NewSecretCache(client SecretsManagerClient) *SecretCache {
	return &SecretCache{
		secrets: make(map[string]map[string]any),
		client:  client,
	}
}

// NewLazySecretCache creates a SecretCache that loads AWS config from the
// environment the first time an aws_secret_arn is resolved. Setups that
// never reference AWS need no AWS credentials.
func NewLazySecretCache() *SecretCache {
	sc := NewSecretCache(nil)
	sc.newClient = func(ctx context.Context) (SecretsManagerClient, error) {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return secretsmanager.NewFromConfig(cfg), nil
	}
	return sc
}

// Get returns the secret value ref points at.
func (sc *SecretCache) Get(ctx context.Context, ref SecretRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}

	switch {
	case ref.InsecureValue != "":
		return ref.InsecureValue, nil
	case ref.EnvVar != "":
		val, ok := os.LookupEnv(ref.EnvVar)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", ref.EnvVar)
		}
		return val, nil
	}

	data, err := sc.awsSecret(ctx, ref.AwsSecretArn)
	if err != nil {
		return "", err
	}
	return stringField(data, ref.Key)
}

func (sc *SecretCache) awsSecret(ctx context.Context, arn string) (map[string]any, error) {
	sc.mu.Lock()
	data, ok := sc.secrets[arn]
	sc.mu.Unlock()
	if ok {
		return data, nil
	}

	v, err, _ := sc.fetches.Do(arn, func() (any, error) {
		client, err := sc.awsClient(ctx)
		if err != nil {
			return nil, err
		}
		data, err := fetchSecret(ctx, client, arn)
		if err != nil {
			return nil, err
		}
		sc.mu.Lock()
		sc.secrets[arn] = data
		sc.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func (sc *SecretCache) awsClient(ctx context.Context) (SecretsManagerClient, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.client != nil {
		return sc.client, nil
	}
	if sc.newClient == nil {
		return nil, errors.New("no AWS Secrets Manager client configured")
	}
	client, err := sc.newClient(ctx)
	if err != nil {
		return nil, err
	}
	sc.client = client
	return client, nil
}

// fetchSecret reads a secret whose string value is a JSON object.
func fetchSecret(ctx context.Context, client SecretsManagerClient, arn string) (map[string]any, error) {
	output, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", arn, err)
	}
	if output.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", arn)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(*output.SecretString), &data); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", arn, err)
	}
	return data, nil
}

func stringField(data map[string]any, key string) (string, error) {
	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret", key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("value at key %q is not a string (got %T)", key, val)
	}
	return str, nil
}
