package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/errs"
)

// Fetch POSTs req to a peer's /sync endpoint and decodes its Response.
func Fetch(ctx context.Context, httpClient *http.Client, url string, req Request) (*Response, error) {
	body, err := codec.Encode(req)
	if err != nil {
		return nil, errs.InternalWrap(err, "encode sync request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.InternalWrap(err, "build sync request")
	}
	httpReq.Header.Set("Content-Type", "application/cbor")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.RefIOWrap(err, "sync request to %s", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.RefIOWrap(err, "read sync response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Newf(errs.SyncMalformed, errs.SeverityHigh,
			"sync request to %s failed: %s", url, httpStatusSummary(resp.StatusCode, respBody))
	}

	var out Response
	if err := codec.Decode(respBody, &out); err != nil {
		return nil, errs.Wrapf(err, errs.SyncMalformed, errs.SeverityHigh, "decode sync response")
	}
	return &out, nil
}

func httpStatusSummary(status int, body []byte) string {
	if len(body) == 0 {
		return fmt.Sprintf("HTTP %d", status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, string(body))
}
