package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"
)

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	// blobs stores all blobs keyed by "container/blobName".
	blobs map[string][]byte
	// deleteCalls tracks the number of delete operations.
	deleteCalls int
	// copyCalls tracks the number of copy operations.
	copyCalls int
	// lastExpiry records the expiry passed to the last UploadSASURL call.
	lastExpiry time.Time
	// copyErr is returned by CopyBlob when set.
	copyErr error
}

func newMockAzureClient() *mockAzureClient {
	return &mockAzureClient{
		blobs: make(map[string][]byte),
	}
}

func (m *mockAzureClient) blobKey(containerName, blobName string) string {
	return containerName + "/" + blobName
}

func (m *mockAzureClient) UploadSASURL(ctx context.Context, containerName, blobName string, expiry time.Time) (string, error) {
	m.lastExpiry = expiry
	return fmt.Sprintf("https://acct.blob.core.windows.net/%s/%s?sp=cw&se=%s",
		containerName, blobName, expiry.UTC().Format(time.RFC3339)), nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	m.deleteCalls++
	key := m.blobKey(containerName, blobName)
	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("BlobNotFound: the specified blob does not exist")
	}
	delete(m.blobs, key)
	return nil
}

func (m *mockAzureClient) BlobExists(ctx context.Context, containerName, blobName string) (bool, error) {
	_, ok := m.blobs[m.blobKey(containerName, blobName)]
	return ok, nil
}

func (m *mockAzureClient) CopyBlob(ctx context.Context, containerName, srcBlob, dstBlob string) error {
	m.copyCalls++
	if m.copyErr != nil {
		return m.copyErr
	}
	data, ok := m.blobs[m.blobKey(containerName, srcBlob)]
	if !ok {
		return fmt.Errorf("CannotVerifyCopySource: the specified blob does not exist")
	}
	m.blobs[m.blobKey(containerName, dstBlob)] = append([]byte(nil), data...)
	return nil
}

func (m *mockAzureClient) ListBlobs(ctx context.Context, containerName, prefix string) ([]string, error) {
	var names []string
	for key := range m.blobs {
		name := strings.TrimPrefix(key, containerName+"/")
		if name != key && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *mockAzureClient) ContainerExists(ctx context.Context, containerName string) error {
	return nil
}

func newTestAzureBackend(t *testing.T) (*AzureBackend, *mockAzureClient) {
	t.Helper()
	mock := newMockAzureClient()
	backend := NewAzureBackendWithClient("assets", "https://acct.blob.core.windows.net/", mock)
	backend.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return backend, mock
}

func TestAzurePresignPut(t *testing.T) {
	backend, mock := newTestAzureBackend(t)

	u, err := backend.PresignPut(context.Background(), "temp/abc_cat.png", 10*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut failed: %v", err)
	}
	if !strings.Contains(u, "/assets/temp/abc_cat.png?") {
		t.Errorf("URL does not target container/blob: %s", u)
	}
	if want := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC); !mock.lastExpiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", mock.lastExpiry, want)
	}
}

func TestAzureCopyObject(t *testing.T) {
	backend, mock := newTestAzureBackend(t)
	mock.blobs["assets/temp/abc_cat.png"] = []byte("png")

	if err := backend.CopyObject(context.Background(), "temp/abc_cat.png", "product/abc_cat.png"); err != nil {
		t.Fatalf("CopyObject failed: %v", err)
	}
	if string(mock.blobs["assets/product/abc_cat.png"]) != "png" {
		t.Error("destination blob missing after copy")
	}
}

func TestAzureCopyObjectNotFound(t *testing.T) {
	backend, _ := newTestAzureBackend(t)

	err := backend.CopyObject(context.Background(), "temp/missing", "product/missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestAzureCopyObjectFailure(t *testing.T) {
	backend, mock := newTestAzureBackend(t)
	mock.copyErr = errors.New("copy of temp/a ended with status failed")

	err := backend.CopyObject(context.Background(), "temp/a", "product/a")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrObjectNotFound) {
		t.Error("a failed copy is not a missing source")
	}
}

func TestAzureDeleteObjectIdempotent(t *testing.T) {
	backend, mock := newTestAzureBackend(t)
	ctx := context.Background()
	mock.blobs["assets/temp/a"] = []byte("a")

	if err := backend.DeleteObject(ctx, "temp/a"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if err := backend.DeleteObject(ctx, "temp/a"); err != nil {
		t.Errorf("deleting a missing blob should succeed: %v", err)
	}
}

func TestAzureListObjects(t *testing.T) {
	backend, mock := newTestAzureBackend(t)
	mock.blobs["assets/temp/b"] = nil
	mock.blobs["assets/temp/a"] = nil
	mock.blobs["assets/product/c"] = nil
	mock.blobs["other/temp/d"] = nil

	keys, err := backend.ListObjects(context.Background(), "temp/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "temp/a" || keys[1] != "temp/b" {
		t.Errorf("keys = %v, want [temp/a temp/b]", keys)
	}
}

func TestIsAzureNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("BlobNotFound"), true},
		{errors.New("RESPONSE 404: 404 The specified blob does not exist."), true},
		{errors.New("AuthorizationFailure"), false},
	}
	for _, tt := range tests {
		if got := isAzureNotFound(tt.err); got != tt.want {
			t.Errorf("isAzureNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestAzureInterfaceCompliance(t *testing.T) {
	var _ ObjectStore = (*AzureBackend)(nil)
}
