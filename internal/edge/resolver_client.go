package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
)

const resolvePath = "/custom-domain/resolve"

// ResolverClient calls the backend resolve endpoint.
type ResolverClient struct {
	baseURL string
	client  *http.Client
}

func NewResolverClient(baseURL string, timeout time.Duration) *ResolverClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ResolverClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type resolveResponse struct {
	Data core.Resolution `json:"data"`
}

// Resolve returns the resolution for hostname. A 404 from the backend is a
// definitive "not valid"; anything else that is not a 200 is reported as
// resolver_unavailable.
func (r *ResolverClient) Resolve(ctx context.Context, hostname string) (core.Resolution, error) {
	endpoint := r.baseURL + resolvePath + "?domain=" + url.QueryEscape(hostname)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.Resolution{}, apperr.Wrap(apperr.KindResolverUnavailable, "resolve", err, "")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "CustomDomainEdge/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return core.Resolution{}, apperr.Wrap(apperr.KindResolverUnavailable, "resolve", err, "")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body resolveResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
			return core.Resolution{}, apperr.Wrap(apperr.KindResolverUnavailable, "resolve", err, "invalid resolver response")
		}
		if body.Data.Domain == "" {
			body.Data.Domain = hostname
		}
		return body.Data, nil
	case http.StatusNotFound:
		res := core.Resolution{Domain: hostname, SSLStatus: core.ResolutionNotFound}
		var body resolveResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Data.SSLStatus != "" {
			res.SSLStatus = body.Data.SSLStatus
		}
		return res, nil
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return core.Resolution{}, apperr.Wrap(apperr.KindResolverUnavailable, "resolve",
			fmt.Errorf("unexpected status %d", resp.StatusCode), "")
	}
}
