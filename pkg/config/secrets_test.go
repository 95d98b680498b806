package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	secrets map[string]string
	calls   int
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	s, ok := f.secrets[*in.SecretId]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: &s}, nil
}

func TestSecretRef_RoundTrip(t *testing.T) {
	input := `{"aws_secret_arn":"arn:aws:secretsmanager:us-east-1:123456789:secret:my-secret","key":"password"}`

	ref, err := ParseSecretRef(input)
	require.NoError(t, err)
	assert.Equal(t, input, ref.String())
	assert.False(t, ref.IsZero())
}

func TestSecretRef_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ref     SecretRef
		wantErr string
	}{
		{name: "empty", ref: SecretRef{}, wantErr: "must have one of"},
		{name: "two sources", ref: SecretRef{InsecureValue: "x", EnvVar: "Y"}, wantErr: "only one of"},
		{name: "arn without key", ref: SecretRef{AwsSecretArn: "arn:x"}, wantErr: "requires key"},
		{name: "env", ref: SecretRef{EnvVar: "PGPASSWORD"}},
		{name: "insecure", ref: SecretRef{InsecureValue: "hunter2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSecretRef_Invalid(t *testing.T) {
	_, err := ParseSecretRef("not json")
	assert.ErrorContains(t, err, "invalid secret ref")

	_, err = ParseSecretRef(`{}`)
	assert.Error(t, err)
}

func TestSecretCache_Sources(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSecretsManager{secrets: map[string]string{
		"arn:db": `{"password":"s3cret","port":5432}`,
	}}
	sc := NewSecretCache(fake)

	got, err := sc.Get(ctx, SecretRef{InsecureValue: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	t.Setenv("QUERYLINK_TEST_SECRET", "from-env")
	got, err = sc.Get(ctx, SecretRef{EnvVar: "QUERYLINK_TEST_SECRET"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	_, err = sc.Get(ctx, SecretRef{EnvVar: "QUERYLINK_TEST_SECRET_UNSET"})
	assert.ErrorContains(t, err, "not set")

	got, err = sc.Get(ctx, SecretRef{AwsSecretArn: "arn:db", Key: "password"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	// Second lookup is served from the cache.
	_, err = sc.Get(ctx, SecretRef{AwsSecretArn: "arn:db", Key: "password"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)

	_, err = sc.Get(ctx, SecretRef{AwsSecretArn: "arn:db", Key: "port"})
	assert.ErrorContains(t, err, "not a string")

	_, err = sc.Get(ctx, SecretRef{AwsSecretArn: "arn:db", Key: "user"})
	assert.ErrorContains(t, err, "not found in secret")

	_, err = sc.Get(ctx, SecretRef{AwsSecretArn: "arn:missing", Key: "password"})
	assert.ErrorContains(t, err, "failed to get secret")
}

func TestSecretCache_NoClient(t *testing.T) {
	sc := NewSecretCache(nil)
	_, err := sc.Get(context.Background(), SecretRef{AwsSecretArn: "arn:db", Key: "password"})
	assert.ErrorContains(t, err, "no AWS Secrets Manager client")
}
