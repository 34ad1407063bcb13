package pipeline

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/assetstage/assetstage/internal/errors"
)

var stagingKeyPattern = regexp.MustCompile(`^[0-9a-f]{32}_cat\.png$`)

func TestIssueUploadURL(t *testing.T) {
	p, _, reg := newTestPipeline(t)
	ctx := context.Background()
	p.Coordinator.now = reg.Now

	ticket, err := p.Coordinator.IssueUploadURL(ctx, "cat.png")
	require.NoError(t, err)

	assert.Regexp(t, stagingKeyPattern, ticket.StagingKey)
	assert.Contains(t, ticket.URL, "/temp/"+ticket.StagingKey)
	assert.Equal(t, reg.Now().Add(5*time.Minute), ticket.ExpiresAt)

	claimed, err := reg.Exists(ctx, ticket.StagingKey)
	require.NoError(t, err)
	assert.False(t, claimed, "issuing a URL must not claim the key")
}

func TestIssueUploadURLUniqueKeys(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		ticket, err := p.Coordinator.IssueUploadURL(ctx, "cat.png")
		require.NoError(t, err)
		require.False(t, seen[ticket.StagingKey], "duplicate staging key %s", ticket.StagingKey)
		seen[ticket.StagingKey] = true
	}
}

func TestIssueUploadURLSanitizesFilename(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	ticket, err := p.Coordinator.IssueUploadURL(context.Background(), `../holiday\cat.png`)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ticket.StagingKey, "_.._holiday_cat.png"), ticket.StagingKey)
	assert.True(t, validKey(ticket.StagingKey))
}

func TestIssueUploadURLBlankFilename(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	for _, name := range []string{"", "   ", "..", "\x00"} {
		_, err := p.Coordinator.IssueUploadURL(context.Background(), name)
		assert.ErrorIs(t, err, apperrors.ErrIllegalKey, "filename %q", name)
	}
}

func TestIssueUploadURLSigningFailure(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	store.failPresign = true

	_, err := p.Coordinator.IssueUploadURL(context.Background(), "cat.png")
	require.ErrorIs(t, err, apperrors.ErrSigning)
	assert.ErrorIs(t, err, errInjected)
}

func TestConfirmUpload(t *testing.T) {
	p, _, reg := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Coordinator.ConfirmUpload(ctx, "abc_cat.png"))
	claimed, err := reg.Exists(ctx, "abc_cat.png")
	require.NoError(t, err)
	assert.True(t, claimed)

	reg.Advance(23 * time.Hour)
	claimed, _ = reg.Exists(ctx, "abc_cat.png")
	assert.True(t, claimed, "claim should still be live inside the TTL")

	reg.Advance(2 * time.Hour)
	claimed, _ = reg.Exists(ctx, "abc_cat.png")
	assert.False(t, claimed, "claim should lapse after the TTL")
}

func TestConfirmUploadRetryResetsTTL(t *testing.T) {
	p, _, reg := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Coordinator.ConfirmUpload(ctx, "abc_cat.png"))
	reg.Advance(20 * time.Hour)
	require.NoError(t, p.Coordinator.ConfirmUpload(ctx, "abc_cat.png"))
	reg.Advance(20 * time.Hour)

	claimed, _ := reg.Exists(ctx, "abc_cat.png")
	assert.True(t, claimed)
}

func TestConfirmUploadIllegalKey(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	for _, key := range []string{"", " ", "temp/abc", `a\b`} {
		err := p.Coordinator.ConfirmUpload(context.Background(), key)
		assert.ErrorIs(t, err, apperrors.ErrIllegalKey, "key %q", key)
	}
}

func TestConfirmUploadRegistryFailure(t *testing.T) {
	p, _, reg := newTestPipeline(t)
	reg.failClaim = true

	err := p.Coordinator.ConfirmUpload(context.Background(), "abc_cat.png")
	require.ErrorIs(t, err, apperrors.ErrRegistryWrite)
	assert.Equal(t, 503, apperrors.HTTPStatus(err))
}

func TestConfirmUploadVerifiesObject(t *testing.T) {
	store := newRecordingStore()
	reg := newRecordingRegistry()
	cfg := testConfig()
	cfg.VerifyUploads = true
	p := New(store, reg, cfg)
	ctx := context.Background()

	err := p.Coordinator.ConfirmUpload(ctx, "abc_cat.png")
	require.ErrorIs(t, err, apperrors.ErrUploadNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))
	claimed, _ := reg.Exists(ctx, "abc_cat.png")
	assert.False(t, claimed, "missing upload must not be claimed")

	store.PutObject("temp/abc_cat.png", []byte("x"))
	require.NoError(t, p.Coordinator.ConfirmUpload(ctx, "abc_cat.png"))
	claimed, _ = reg.Exists(ctx, "abc_cat.png")
	assert.True(t, claimed)

	store.failExists = true
	err = p.Coordinator.ConfirmUpload(ctx, "abc_cat.png")
	require.ErrorIs(t, err, apperrors.ErrObjectLookup)
	assert.ErrorIs(t, err, errInjected)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cat.png", "cat.png"},
		{"  cat.png ", "cat.png"},
		{"a/b/c.png", "a_b_c.png"},
		{`a\b.png`, "a_b.png"},
		{"tab\there.png", "tabhere.png"},
		{".", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("x", 300) + ".png"
	got := SanitizeFilename(long)
	assert.Len(t, got, maxFilenameLen)
	assert.True(t, strings.HasSuffix(got, ".png"), "extension should survive truncation")
}
