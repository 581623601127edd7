// Package attachments implements Attachment Ingest (spec.md §4.11,
// component C11): when enabled, fetches a Discord attachment URL under a
// byte cap and records it under the configured storage directory. Fetch
// idiom (byte-capped io.LimitReader, bounded redirects, explicit timeout)
// adapted from the teacher's internal/tools/web_fetch.go doFetch.
package attachments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/pkg/codial"
)

const maxRedirects = 5

// Ingester downloads attachment URLs into local storage under a size cap.
type Ingester struct {
	enabled   bool
	maxBytes  int64
	storeDir  string
	client    *http.Client
}

// New constructs an Ingester. When enabled is false, Ingest passes the
// attachment through unchanged (URL metadata only, no local_path),
// matching spec.md §4.7 step 2's "otherwise pass URL metadata" branch.
func New(enabled bool, maxBytes int64, storeDir string) *Ingester {
	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Ingester{enabled: enabled, maxBytes: maxBytes, storeDir: storeDir, client: client}
}

// Ingest fetches att.URL (when enabled) into storeDir, filling LocalPath,
// ContentType, and Size on success. On size/transport violation it returns
// codialerr.CodeAttachmentRejected and never retries (spec.md §4.11).
func (in *Ingester) Ingest(ctx context.Context, att codial.Attachment) (codial.Attachment, error) {
	if !in.enabled {
		return att, nil
	}
	if att.AttachmentID == "" {
		att.AttachmentID = uuid.NewString()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return att, codialerr.AttachmentRejected("", "invalid attachment url: "+err.Error())
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return att, codialerr.AttachmentRejected("", "fetch failed: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return att, codialerr.AttachmentRejected("", fmt.Sprintf("fetch returned status %d", resp.StatusCode))
	}

	if resp.ContentLength > 0 && resp.ContentLength > in.maxBytes {
		return att, codialerr.AttachmentRejected("", fmt.Sprintf("attachment size %d exceeds cap %d", resp.ContentLength, in.maxBytes))
	}

	if err := os.MkdirAll(in.storeDir, 0o755); err != nil {
		return att, codialerr.AttachmentRejected("", "storage dir unavailable: "+err.Error())
	}

	name := fmt.Sprintf("%s-%s", att.AttachmentID, sanitizeFilename(att.Filename))
	dest := filepath.Join(in.storeDir, name)

	f, err := os.Create(dest)
	if err != nil {
		return att, codialerr.AttachmentRejected("", "create local file: "+err.Error())
	}

	limited := io.LimitReader(resp.Body, in.maxBytes+1)
	n, err := io.Copy(f, limited)
	closeErr := f.Close()
	if err != nil {
		os.Remove(dest)
		return att, codialerr.AttachmentRejected("", "download failed: "+err.Error())
	}
	if closeErr != nil {
		os.Remove(dest)
		return att, codialerr.AttachmentRejected("", "finalize file: "+closeErr.Error())
	}
	if n > in.maxBytes {
		os.Remove(dest)
		return att, codialerr.AttachmentRejected("", fmt.Sprintf("attachment exceeds cap %d bytes", in.maxBytes))
	}

	att.Size = n
	att.LocalPath = dest
	if att.ContentType == "" {
		att.ContentType = resp.Header.Get("Content-Type")
	}
	return att, nil
}

// sanitizeFilename strips path separators and leading dots so the result
// is safe to join under storeDir.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "attachment"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
