// Package externalres talks to the diff repository: version-diff metadata,
// diff payload streams and the optional unstripped libunity asset.
package externalres

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/diff"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/funcutils"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
}

// GetVersionDiffs fetches the diff metadata describing the downgrade from
// the given installed version. Returns nil when no diff path exists for
// that version.
func (c *Client) GetVersionDiffs(apkID, version string) (*diff.VersionDiffs, error) {
	url := fmt.Sprintf("%s/diffs/%s/%s.json", c.baseURL, apkID, version)
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("could not fetch diff index from `%s`: %w", url, err)
	}
	defer funcutils.PanicOrLogOnErr(resp.Body.Close, false, "failed to close diff index response")
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diff index request to `%s` returned status %d", url, resp.StatusCode)
	}

	var diffs diff.VersionDiffs
	if err := json.NewDecoder(resp.Body).Decode(&diffs); err != nil {
		return nil, fmt.Errorf("could not decode diff index from `%s`: %w", url, err)
	}
	return &diffs, nil
}

// GetDiffReader opens a streaming response for one diff payload. The
// returned length is negative if the repository declares no Content-Length.
func (c *Client) GetDiffReader(d diff.Diff) (io.ReadCloser, int64, error) {
	url := fmt.Sprintf("%s/diffs/payloads/%s", c.baseURL, d.DiffID)
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, -1, fmt.Errorf("could not open diff stream `%s`: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		funcutils.PanicOrLogOnErr(resp.Body.Close, false, "failed to close diff stream response")
		return nil, -1, fmt.Errorf("diff stream request to `%s` returned status %d", url, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// GetLibUnityStream opens a stream for the unstripped libunity.so built for
// this app version. Returns nil without error when none is published, which
// degrades mod diagnostics but does not block modding.
func (c *Client) GetLibUnityStream(apkID, version string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/unstripped/%s/%s/libunity.so", c.baseURL, apkID, version)
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("could not fetch libunity from `%s`: %w", url, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		funcutils.PanicOrLogOnErr(resp.Body.Close, false, "failed to close libunity response")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		funcutils.PanicOrLogOnErr(resp.Body.Close, false, "failed to close libunity response")
		return nil, fmt.Errorf("libunity request to `%s` returned status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
