// Package storage provides the Azure Blob Storage backend for assetstage.
//
// The bucket maps to a single container. Upload URLs are blob SAS URLs with
// create and write permission only, signed with the account key when one is
// configured or with a user delegation key otherwise.
//
// Credentials: connection string, then account key, then
// DefaultAzureCredential (env vars, managed identity, Azure CLI, etc.).
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadSASURL returns a SAS URL allowing a client to create the blob.
	UploadSASURL(ctx context.Context, containerName, blobName string, expiry time.Time) (string, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
	// CopyBlob copies srcBlob to dstBlob and waits for the copy to finish.
	CopyBlob(ctx context.Context, containerName, srcBlob, dstBlob string) error
	// ListBlobs lists every blob name with the given prefix.
	ListBlobs(ctx context.Context, containerName, prefix string) ([]string, error)
	// ContainerExists verifies the container is reachable.
	ContainerExists(ctx context.Context, containerName string) error
}

// AzureBackend implements ObjectStore on a single Azure Blob container.
type AzureBackend struct {
	// Container is the Azure Blob container name.
	Container string
	// AccountURL is the Azure storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string

	client AzureBlobAPI
	now    func() time.Time
}

// NewAzureBackend creates an AzureBackend for the given container. When
// accountURL is empty it is derived from account.
func NewAzureBackend(ctx context.Context, container, account, accountURL, accountKey, connectionString string) (*AzureBackend, error) {
	if accountURL == "" && account != "" {
		accountURL = fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}

	client, err := newRealAzureClient(accountURL, account, accountKey, connectionString)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	b := NewAzureBackendWithClient(container, accountURL, client)
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access Azure container %q: %w", container, err)
	}

	slog.Info("Azure storage backend initialized", "container", container, "account", accountURL)
	return b, nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// Azure client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(container, accountURL string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		Container:  container,
		AccountURL: accountURL,
		client:     client,
		now:        time.Now,
	}
}

// PresignPut returns a create/write SAS URL for key that expires after ttl.
func (b *AzureBackend) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := b.client.UploadSASURL(ctx, b.Container, key, b.now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("signing Azure SAS URL: %w", err)
	}
	return u, nil
}

// CopyObject copies srcKey to dstKey within the container.
func (b *AzureBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	if err := b.client.CopyBlob(ctx, b.Container, srcKey, dstKey); err != nil {
		if isAzureNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
		}
		return fmt.Errorf("copying blob in Azure: %w", err)
	}
	return nil
}

// DeleteObject removes a blob. Idempotent: a missing blob is not an error.
func (b *AzureBackend) DeleteObject(ctx context.Context, key string) error {
	if err := b.client.DeleteBlob(ctx, b.Container, key); err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// ListObjects returns every blob name under prefix across all list pages.
func (b *AzureBackend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	names, err := b.client.ListBlobs(ctx, b.Container, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing Azure blobs under %q: %w", prefix, err)
	}
	return names, nil
}

// ObjectExists checks whether a blob exists in the container.
func (b *AzureBackend) ObjectExists(ctx context.Context, key string) (bool, error) {
	exists, err := b.client.BlobExists(ctx, b.Container, key)
	if err != nil {
		return false, fmt.Errorf("checking blob existence in Azure: %w", err)
	}
	return exists, nil
}

// HealthCheck verifies that the container is accessible.
func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	return b.client.ContainerExists(ctx, b.Container)
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.CannotVerifyCopySource) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist") {
		return true
	}
	return false
}

// Ensure AzureBackend implements ObjectStore at compile time.
var _ ObjectStore = (*AzureBackend)(nil)
