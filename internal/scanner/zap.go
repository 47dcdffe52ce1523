package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hemostat/hemostat/internal/retry"
)

// ZAPClient speaks the OWASP ZAP JSON API used to drive active scans.
type ZAPClient struct {
	baseURL string
	client  *http.Client
}

// NewZAPClient creates a client for the daemon at baseURL. timeout bounds a
// single API request, not a whole scan.
func NewZAPClient(baseURL string, timeout time.Duration) *ZAPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ZAPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (z *ZAPClient) get(ctx context.Context, path string, params url.Values, v any) error {
	u := z.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := z.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("zap returned status %d for %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// Version probes the daemon; used as the readiness check before a scan cycle.
func (z *ZAPClient) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := z.get(ctx, "/JSON/core/view/version/", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// StartScan kicks off a recursive active scan of the target and returns the
// scan ID. Transient API failures are retried.
func (z *ZAPClient) StartScan(ctx context.Context, target string) (string, error) {
	return retry.DoWithRetry(ctx, func() (string, error) {
		var out struct {
			Scan string `json:"scan"`
		}
		params := url.Values{
			"url":         {target},
			"recurse":     {"true"},
			"inScopeOnly": {"false"},
		}
		if err := z.get(ctx, "/JSON/ascan/action/scan/", params, &out); err != nil {
			return "", err
		}
		if out.Scan == "" {
			return "", fmt.Errorf("scan response carried no scan id")
		}
		return out.Scan, nil
	}, retry.Config{MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second})
}

// Progress returns the active scan's completion percentage.
func (z *ZAPClient) Progress(ctx context.Context, scanID string) (int, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := z.get(ctx, "/JSON/ascan/view/status/", url.Values{"scanId": {scanID}}, &out); err != nil {
		return 0, err
	}
	p, err := strconv.Atoi(out.Status)
	if err != nil {
		return 0, fmt.Errorf("scan status %q: %w", out.Status, err)
	}
	return p, nil
}

type zapFinding struct {
	Alert       string `json:"alert"`
	Risk        string `json:"risk"`
	URL         string `json:"url"`
	Param       string `json:"param"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
	Reference   string `json:"reference"`
}

// Findings returns every alert the daemon has accumulated for the session.
func (z *ZAPClient) Findings(ctx context.Context) ([]zapFinding, error) {
	var out struct {
		Alerts []zapFinding `json:"alerts"`
	}
	if err := z.get(ctx, "/JSON/core/view/alerts/", nil, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}
