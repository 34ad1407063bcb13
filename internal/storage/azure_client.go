package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
)

// copyPollInterval is how often a pending server-side copy is re-checked.
const copyPollInterval = 250 * time.Millisecond

// realAzureClient wraps the official Azure SDK client to satisfy AzureBlobAPI.
type realAzureClient struct {
	client *azblob.Client
	// sharedKey is set when the client authenticates with an account key,
	// which lets SAS URLs be signed locally. Otherwise a user delegation
	// key is fetched per URL.
	sharedKey bool
}

// newRealAzureClient creates a real Azure Blob client. A connection string
// wins, then an account key, and DefaultAzureCredential is the fallback.
func newRealAzureClient(accountURL, account, accountKey, connectionString string) (*realAzureClient, error) {
	if connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client from connection string: %w", err)
		}
		return &realAzureClient{client: client, sharedKey: true}, nil
	}

	if accountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(account, accountKey)
		if err != nil {
			return nil, fmt.Errorf("creating Azure shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client with shared key: %w", err)
		}
		return &realAzureClient{client: client, sharedKey: true}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}
	return &realAzureClient{client: client}, nil
}

func (c *realAzureClient) blobClient(containerName, blobName string) *blob.Client {
	return c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName)
}

func (c *realAzureClient) UploadSASURL(ctx context.Context, containerName, blobName string, expiry time.Time) (string, error) {
	perms := sas.BlobPermissions{Create: true, Write: true}
	bc := c.blobClient(containerName, blobName)

	if c.sharedKey {
		return bc.GetSASURL(perms, expiry, nil)
	}

	start := time.Now().UTC().Add(-5 * time.Minute)
	udc, err := c.client.ServiceClient().GetUserDelegationCredential(ctx, service.KeyInfo{
		Start:  to.Ptr(start.Format(time.RFC3339)),
		Expiry: to.Ptr(expiry.UTC().Format(time.RFC3339)),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("fetching user delegation key: %w", err)
	}

	qp, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     start,
		ExpiryTime:    expiry.UTC(),
		Permissions:   perms.String(),
		ContainerName: containerName,
		BlobName:      blobName,
	}.SignWithUserDelegation(udc)
	if err != nil {
		return "", err
	}
	return bc.URL() + "?" + qp.Encode(), nil
}

func (c *realAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, blobName, nil)
	return err
}

func (c *realAzureClient) BlobExists(ctx context.Context, containerName, blobName string) (bool, error) {
	_, err := c.blobClient(containerName, blobName).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CopyBlob starts a server-side copy and waits until it leaves the pending
// state. Same-account copies normally complete synchronously.
func (c *realAzureClient) CopyBlob(ctx context.Context, containerName, srcBlob, dstBlob string) error {
	src := c.blobClient(containerName, srcBlob)
	dst := c.blobClient(containerName, dstBlob)

	resp, err := dst.StartCopyFromURL(ctx, src.URL(), nil)
	if err != nil {
		return err
	}
	status := resp.CopyStatus

	for status != nil && *status == blob.CopyStatusTypePending {
		timer := time.NewTimer(copyPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		props, err := dst.GetProperties(ctx, nil)
		if err != nil {
			return err
		}
		status = props.CopyStatus
	}

	if status != nil && *status != blob.CopyStatusTypeSuccess {
		return fmt.Errorf("copy of %s ended with status %s", srcBlob, *status)
	}
	return nil
}

func (c *realAzureClient) ListBlobs(ctx context.Context, containerName, prefix string) ([]string, error) {
	pager := c.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (c *realAzureClient) ContainerExists(ctx context.Context, containerName string) error {
	_, err := c.client.ServiceClient().NewContainerClient(containerName).GetProperties(ctx, nil)
	return err
}
