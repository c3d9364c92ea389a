// Package feed implements the authenticated HTTP client for the remote
// OData-style listing feed: paged reads, media downloads, and the 429
// recovery ladder. It is the HTTP analog of the teacher's gRPC
// internal/flow.Client — a small struct carrying the shared rate limiter
// and a withRetry-style wrapper, re-pointed at net/http.
package feed

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/feederr"
	"github.com/Beck89/mta-mls-worker/internal/ratelimiter"
)

const (
	maxRateLimitProbes = 10
	rateLimitWait      = 10 * time.Minute
)

// Client is the shared feed/CDN HTTP client. One instance is constructed
// at startup and passed down to every loop.
type Client struct {
	baseURL    string
	token      string
	vendor     string
	httpClient *http.Client
	limiter    *ratelimiter.Limiter

	// OnRequestLogged is invoked once per HTTP attempt (success or
	// failure) so callers can persist it to the per-run request log.
	OnRequestLogged func(entry RequestLog)
}

// RequestLog mirrors models.RequestLogEntry without importing the models
// package's run-id framing, so feed stays free of repository concerns.
type RequestLog struct {
	URL          string
	StatusCode   int
	ElapsedMs    int64
	Bytes        int64
	RecordCount  int
	ErrorMessage string
	RequestedAt  time.Time
}

// New constructs a Client against the given base URL, bearer token, and
// OriginatingSystemName vendor filter value.
func New(baseURL, token, vendor string, limiter *ratelimiter.Limiter) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		vendor:  vendor,
		httpClient: &http.Client{
			Timeout: 0, // liveness is governed by the 429 ladder, not a blanket timeout
		},
		limiter: limiter,
	}
}

// expandFor returns the $expand value for a resource, or "" if none.
func expandFor(resource string) string {
	switch resource {
	case "Property":
		return "Media,Rooms,UnitTypes"
	case "Member", "Office":
		return "Media"
	default:
		return ""
	}
}

func pageSizeFor(resource string) int {
	if expandFor(resource) != "" {
		return 1000
	}
	return 5000
}

// BuildInitialUrl builds the first-cycle URL for a resource: filters to
// the configured vendor and (for initial import only) to canView=true.
func (c *Client) BuildInitialUrl(resource string) string {
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and MlgCanView eq true", c.vendor)
	return c.buildUrl(resource, filter)
}

// BuildReplicationUrl builds a steady-state URL filtered on
// ModificationTimestamp relative to hwm. resumeSafe selects `ge` (dedup
// protocol engaged) over the default `gt`.
func (c *Client) BuildReplicationUrl(resource string, hwm time.Time, resumeSafe bool) string {
	op := "gt"
	if resumeSafe {
		op = "ge"
	}
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and ModificationTimestamp %s '%s'",
		c.vendor, op, hwm.UTC().Format(time.RFC3339Nano))
	return c.buildUrl(resource, filter)
}

// BuildSingleListingUrl builds a URL to re-fetch one listing (expanded)
// by its vendor listing id, used for inline/background media recovery.
func (c *Client) BuildSingleListingUrl(listingID string) string {
	filter := fmt.Sprintf("OriginatingSystemName eq '%s' and ListingId eq '%s'", c.vendor, listingID)
	return c.buildUrl("Property", filter)
}

func (c *Client) buildUrl(resource, filter string) string {
	q := url.Values{}
	q.Set("$filter", filter)
	q.Set("$top", strconv.Itoa(pageSizeFor(resource)))
	if expand := expandFor(resource); expand != "" {
		q.Set("$expand", expand)
	}
	return fmt.Sprintf("%s/%s?%s", c.baseURL, resource, q.Encode())
}

// Page is the result of one fetched page.
type Page struct {
	URL        string
	Records    []json.RawMessage
	NextLink   string
	Bytes      int64
	ElapsedMs  int64
}

type odataEnvelope struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// FetchPage fetches one page, waiting on API admission first and
// recovering from 429s via the probe ladder described in spec.md §4.B.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*Page, error) {
	probes := 0
	for {
		c.limiter.AdmitAPI()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Encoding", "gzip")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			c.logRequest(pageURL, 0, elapsed, 0, 0, err.Error())
			return nil, fmt.Errorf("fetch page %s: %w", pageURL, err)
		}

		body, bodyErr := readBody(resp)
		resp.Body.Close()
		if bodyErr != nil {
			c.logRequest(pageURL, resp.StatusCode, elapsed, 0, 0, bodyErr.Error())
			return nil, fmt.Errorf("read page body %s: %w", pageURL, bodyErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var env odataEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				c.logRequest(pageURL, resp.StatusCode, elapsed, int64(len(body)), 0, err.Error())
				return nil, fmt.Errorf("decode page body %s: %w", pageURL, err)
			}
			c.logRequest(pageURL, resp.StatusCode, elapsed, int64(len(body)), len(env.Value), "")
			return &Page{
				URL:       pageURL,
				Records:   env.Value,
				NextLink:  env.NextLink,
				Bytes:     int64(len(body)),
				ElapsedMs: elapsed.Milliseconds(),
			}, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			c.logRequest(pageURL, resp.StatusCode, elapsed, int64(len(body)), 0, "rate limited")
			probes++
			if probes > maxRateLimitProbes {
				return nil, &feederr.RateLimited{Source: "feed", Probes: probes, Waited: time.Duration(probes-1) * rateLimitWait}
			}
			log.Printf("[feed] 429 on %s, probe %d/%d, waiting %s", pageURL, probes, maxRateLimitProbes, rateLimitWait)
			select {
			case <-time.After(rateLimitWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue

		default:
			c.logRequest(pageURL, resp.StatusCode, elapsed, int64(len(body)), 0, "api error")
			return nil, &feederr.ApiError{StatusCode: resp.StatusCode, Body: string(body), URL: pageURL}
		}
	}
}

// IteratePages lazily walks every page starting at initialURL, invoking
// fn for each page until fn returns false, an error occurs, or the feed
// is exhausted (no further nextLink).
func (c *Client) IteratePages(ctx context.Context, initialURL string, fn func(*Page) (bool, error)) error {
	next := initialURL
	for next != "" {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page, err := c.FetchPage(ctx, next)
		if err != nil {
			return err
		}
		cont, err := fn(page)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		next = page.NextLink
	}
	return nil
}

// MediaDownload is the result of a successful media fetch.
type MediaDownload struct {
	Body        []byte
	ContentType string
	Size        int64
}

// DownloadMedia fetches a signed media URL, subject to media admission.
// Bytes are recorded against the limiter only once the transfer
// completes successfully.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) (*MediaDownload, error) {
	c.limiter.AdmitMedia()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logRequest(mediaURL, 0, elapsed, 0, 0, err.Error())
		return nil, fmt.Errorf("download media %s: %w", mediaURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.logRequest(mediaURL, resp.StatusCode, elapsed, 0, 0, err.Error())
			return nil, fmt.Errorf("read media body %s: %w", mediaURL, err)
		}
		c.logRequest(mediaURL, resp.StatusCode, elapsed, int64(len(body)), 0, "")
		c.limiter.RecordMediaBytes(int64(len(body)))
		contentType := resp.Header.Get("Content-Type")
		return &MediaDownload{Body: body, ContentType: contentType, Size: int64(len(body))}, nil

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
		c.logRequest(mediaURL, resp.StatusCode, elapsed, 0, 0, "url expired")
		return nil, &feederr.UrlExpired{URL: mediaURL}

	case resp.StatusCode == http.StatusTooManyRequests:
		c.logRequest(mediaURL, resp.StatusCode, elapsed, 0, 0, "rate limited")
		return nil, &feederr.RateLimited{Source: "media", Probes: 1}

	default:
		body, _ := io.ReadAll(resp.Body)
		c.logRequest(mediaURL, resp.StatusCode, elapsed, int64(len(body)), 0, "api error")
		return nil, &feederr.ApiError{StatusCode: resp.StatusCode, Body: string(body), URL: mediaURL}
	}
}

func (c *Client) logRequest(url string, status int, elapsed time.Duration, bytes int64, recordCount int, errMsg string) {
	if c.OnRequestLogged == nil {
		return
	}
	c.OnRequestLogged(RequestLog{
		URL:          url,
		StatusCode:   status,
		ElapsedMs:    elapsed.Milliseconds(),
		Bytes:        bytes,
		RecordCount:  recordCount,
		ErrorMessage: errMsg,
		RequestedAt:  time.Now(),
	})
}

func readBody(resp *http.Response) ([]byte, error) {
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
	return io.ReadAll(resp.Body)
}
