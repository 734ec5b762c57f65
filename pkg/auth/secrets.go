package auth

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretVersionName returns the resource name of the latest version of a secret.
func SecretVersionName(project, secretName string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, secretName)
}

// LoadSecret reads the latest version of a secret from Google Secret Manager.
// Surrounding whitespace is trimmed from the payload.
func LoadSecret(ctx context.Context, project, secretName, credentialsFile string) (string, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	defer client.Close()

	secretPath := SecretVersionName(project, secretName)
	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretPath,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretPath, err)
	}

	return strings.TrimSpace(string(result.Payload.Data)), nil
}
