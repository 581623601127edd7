package attachments

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/pkg/codial"
)

func TestIngestDisabledPassesThroughUnchanged(t *testing.T) {
	in := New(false, 1024, t.TempDir())
	att := codial.Attachment{AttachmentID: "a1", Filename: "f.txt", URL: "http://example.invalid/f.txt"}

	out, err := in.Ingest(t.Context(), att)
	require.NoError(t, err)
	assert.Equal(t, att, out)
	assert.Empty(t, out.LocalPath)
}

func TestIngestDownloadsUnderCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello attachment"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := New(true, 1024, dir)
	att := codial.Attachment{AttachmentID: "a1", Filename: "f.txt", URL: srv.URL}

	out, err := in.Ingest(t.Context(), att)
	require.NoError(t, err)
	require.NotEmpty(t, out.LocalPath)
	assert.Equal(t, int64(len("hello attachment")), out.Size)
	assert.Equal(t, "text/plain", out.ContentType)

	data, rerr := os.ReadFile(out.LocalPath)
	require.NoError(t, rerr)
	assert.Equal(t, "hello attachment", string(data))
}

func TestIngestRejectsOverCapByContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "999999")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	in := New(true, 10, t.TempDir())
	att := codial.Attachment{AttachmentID: "a1", Filename: "big.bin", URL: srv.URL}

	_, err := in.Ingest(t.Context(), att)
	require.Error(t, err)
	var ce *codialerr.Error
	require.True(t, codialerr.AsError(err, &ce))
	assert.Equal(t, codialerr.CodeAttachmentRejected, ce.WireCode)
}

func TestIngestRejectsOverCapWhenContentLengthUnset(t *testing.T) {
	body := strings.Repeat("x", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Transfer-Encoding", "chunked")
		flusher, _ := w.(http.Flusher)
		for i := 0; i < len(body); i += 8 {
			_, _ = w.Write([]byte(body[i : i+8]))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := New(true, 16, dir)
	att := codial.Attachment{AttachmentID: "a1", Filename: "f.bin", URL: srv.URL}

	_, err := in.Ingest(t.Context(), att)
	require.Error(t, err)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "rejected downloads must not leave partial files behind")
}

func TestIngestRejectsOnNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	in := New(true, 1024, t.TempDir())
	_, err := in.Ingest(t.Context(), codial.Attachment{AttachmentID: "a1", Filename: "f.txt", URL: srv.URL})
	require.Error(t, err)
}

func TestSanitizeFilenameStripsPathSeparatorsAndUnsafeChars(t *testing.T) {
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "report_final.pdf", sanitizeFilename("report final.pdf"))
	assert.Equal(t, "attachment", sanitizeFilename("..."))
}

func TestIngestUsesGeneratedIDWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := New(true, 1024, dir)
	out, err := in.Ingest(t.Context(), codial.Attachment{Filename: "f.txt", URL: srv.URL})
	require.NoError(t, err)
	assert.NotEmpty(t, out.AttachmentID)
	assert.True(t, strings.HasPrefix(filepath.Base(out.LocalPath), out.AttachmentID))
}
