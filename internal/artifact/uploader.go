// Package artifact uploads workspace snapshots as a workflow artifact through
// the Actions results service (artifact API v4).
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/valreg/valreg-go/internal/actions"
	"github.com/valreg/valreg-go/internal/observability"
	"github.com/valreg/valreg-go/internal/ratelimit"
	"github.com/valreg/valreg-go/internal/retry"
)

const (
	servicePath = "/twirp/github.actions.results.api.v1.ArtifactService/"
	apiVersion  = 4
	userAgent   = "valreg-go"
)

// Options tune an Uploader. Zero values fall back to defaults.
type Options struct {
	Policy     retry.Policy
	Limiter    *ratelimit.Limiter
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Uploader creates, fills and finalizes artifacts for the current job.
type Uploader struct {
	resultsURL   string
	runtimeToken string

	http    *http.Client
	policy  retry.Policy
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New creates an Uploader from the runner context.
func New(c actions.Context, opts Options) *Uploader {
	u := &Uploader{
		resultsURL:   c.ResultsURL,
		runtimeToken: c.RuntimeToken,
		http:         opts.HTTPClient,
		policy:       opts.Policy,
		limiter:      opts.Limiter,
		logger:       opts.Logger,
	}
	if u.http == nil {
		u.http = observability.HTTPClient(nil)
		u.http.Timeout = 5 * time.Minute
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	if u.policy.MaxAttempts == 0 {
		u.policy = retry.DefaultPolicy().WithObservers(u.logger, opts.Policy.Metrics)
	}
	return u
}

type createRequest struct {
	WorkflowRunBackendID    string `json:"workflow_run_backend_id"`
	WorkflowJobRunBackendID string `json:"workflow_job_run_backend_id"`
	Name                    string `json:"name"`
	Version                 int    `json:"version"`
}

type createResponse struct {
	OK              bool   `json:"ok"`
	SignedUploadURL string `json:"signed_upload_url"`
}

type finalizeRequest struct {
	WorkflowRunBackendID    string `json:"workflow_run_backend_id"`
	WorkflowJobRunBackendID string `json:"workflow_job_run_backend_id"`
	Name                    string `json:"name"`
	Size                    string `json:"size"`
	Hash                    string `json:"hash"`
}

type finalizeResponse struct {
	OK         bool   `json:"ok"`
	ArtifactID string `json:"artifact_id"`
}

// Upload zips files (paths relative to root) and publishes them as artifact
// name. Each service call is retried independently.
func (u *Uploader) Upload(ctx context.Context, root string, files []string, name string) error {
	ctx, span := observability.Tracer().Start(ctx, "artifact.Upload")
	defer span.End()

	if u.resultsURL == "" {
		return fmt.Errorf("artifact: ACTIONS_RESULTS_URL not set")
	}
	ids, err := actions.ParseBackendIDs(u.runtimeToken)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}

	archive, err := Zip(root, files)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(archive)
	u.logger.Info("uploading artifact", "name", name, "files", len(files), "size", humanize.Bytes(uint64(len(archive))))

	var created createResponse
	err = retry.Do(ctx, u.policy, "create-artifact", func(ctx context.Context) error {
		return u.call(ctx, "CreateArtifact", createRequest{
			WorkflowRunBackendID:    ids.WorkflowRunBackendID,
			WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
			Name:                    name,
			Version:                 apiVersion,
		}, &created)
	})
	if err != nil {
		return fmt.Errorf("artifact: create %q: %w", name, err)
	}
	if !created.OK || created.SignedUploadURL == "" {
		return fmt.Errorf("artifact: create %q: service declined", name)
	}

	err = retry.Do(ctx, u.policy, "upload-blob", func(ctx context.Context) error {
		return u.putBlob(ctx, created.SignedUploadURL, archive)
	})
	if err != nil {
		return fmt.Errorf("artifact: upload %q: %w", name, err)
	}

	var finalized finalizeResponse
	err = retry.Do(ctx, u.policy, "finalize-artifact", func(ctx context.Context) error {
		return u.call(ctx, "FinalizeArtifact", finalizeRequest{
			WorkflowRunBackendID:    ids.WorkflowRunBackendID,
			WorkflowJobRunBackendID: ids.WorkflowJobRunBackendID,
			Name:                    name,
			Size:                    strconv.Itoa(len(archive)),
			Hash:                    "sha256:" + hex.EncodeToString(sum[:]),
		}, &finalized)
	})
	if err != nil {
		return fmt.Errorf("artifact: finalize %q: %w", name, err)
	}
	if !finalized.OK {
		return fmt.Errorf("artifact: finalize %q: service declined", name)
	}

	u.logger.Info("uploaded artifact", "name", name, "artifact_id", finalized.ArtifactID)
	return nil
}

func (u *Uploader) call(ctx context.Context, method string, in, out any) error {
	if err := u.limiter.Wait(ctx, ratelimit.Upload); err != nil {
		return retry.Permanent(err)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.resultsURL+servicePath+method, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+u.runtimeToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusError(method, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

func (u *Uploader) putBlob(ctx context.Context, signedURL string, data []byte) error {
	if err := u.limiter.Wait(ctx, ratelimit.Upload); err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(data))
	if err != nil {
		return retry.Permanent(err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("Content-Type", "application/zip")

	resp, err := u.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError("blob PUT", resp)
}

// statusError maps a non-2xx response to an error. Client errors other than
// 408 and 429 are permanent.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	err := fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, bytes.TrimSpace(msg))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

// Zip archives files (slash paths relative to root) with deflate.
func Zip(root string, files []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("artifact: read %s: %w", rel, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.ToSlash(rel), Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("artifact: add %s: %w", rel, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("artifact: add %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("artifact: close archive: %w", err)
	}
	return buf.Bytes(), nil
}
