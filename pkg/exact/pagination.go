package exact

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
)

// Record is one entity as returned by the API.
type Record = map[string]any

// Page is one decoded response of a list call.
type Page struct {
	Records []Record
	// Next is the continuation URL, empty on the last page.
	Next string
}

// CollectOptions tunes Collect.
type CollectOptions struct {
	// IgnoreRateLimit skips the proactive wait and the 429 retry.
	IgnoreRateLimit bool
}

// DecodePage normalizes a response body. The d member may hold a results
// array with an optional __next cursor, a bare array, or a single record.
func DecodePage(body []byte) (*Page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var envelope struct {
		D json.RawMessage `json:"d"`
	}
	if err := dec.Decode(&envelope); err != nil {
		return nil, &apierror.ValidationError{Message: "malformed JSON response", Raw: string(body), Err: err}
	}
	d := bytes.TrimSpace(envelope.D)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return nil, &apierror.ValidationError{Message: "response has no 'd' member", Raw: string(body)}
	}

	if d[0] == '[' {
		var records []Record
		if err := decodeNumbers(d, &records); err != nil {
			return nil, &apierror.ValidationError{Message: "malformed result array", Raw: string(body), Err: err}
		}
		return &Page{Records: records}, nil
	}

	var obj map[string]json.RawMessage
	if err := decodeNumbers(d, &obj); err != nil {
		return nil, &apierror.ValidationError{Message: "malformed result object", Raw: string(body), Err: err}
	}

	page := &Page{}
	if next, ok := obj["__next"]; ok {
		_ = json.Unmarshal(next, &page.Next)
	}

	if results, ok := obj["results"]; ok {
		if err := decodeNumbers(results, &page.Records); err != nil {
			return nil, &apierror.ValidationError{Message: "malformed results member", Raw: string(body), Err: err}
		}
		if page.Records == nil {
			page.Records = []Record{}
		}
		return page, nil
	}

	var single Record
	if err := decodeNumbers(d, &single); err != nil {
		return nil, &apierror.ValidationError{Message: "malformed record", Raw: string(body), Err: err}
	}
	delete(single, "__next")
	page.Records = []Record{single}
	return page, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Get fetches a single page and returns its records.
func (c *Client) Get(ctx context.Context, uri string, query url.Values) ([]Record, error) {
	resp, err := c.Send(ctx, Request{Method: http.MethodGet, URI: uri, Query: query})
	if err != nil {
		return nil, err
	}
	page, err := DecodePage(resp.Body)
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

// Collect follows the __next cursor from uri and accumulates records until
// limit is reached or no cursor remains. A limit of 0 means no limit. When
// the minutely quota is exhausted Collect waits for the reset, at most
// MaxRateLimitWait, before the next page.
func (c *Client) Collect(ctx context.Context, uri string, limit int, query url.Values, opts CollectOptions) ([]Record, error) {
	var (
		records []Record
		next    string
		pages   int
	)

	for {
		req := Request{Method: http.MethodGet, DisableRetry: opts.IgnoreRateLimit}
		if next == "" {
			req.URI = uri
			req.Query = query
		} else {
			// The cursor already encodes the original query.
			req.URI = next
		}

		resp, err := c.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		page, err := DecodePage(resp.Body)
		if err != nil {
			return nil, err
		}
		pages++
		records = append(records, page.Records...)
		next = page.Next

		if next == "" || (limit > 0 && len(records) >= limit) {
			break
		}

		rl := resp.RateLimit()
		if !opts.IgnoreRateLimit && rl.Exhausted() {
			wait := rl.WaitDuration(c.now())
			c.logger.Info("minutely rate limit reached, waiting for reset",
				"wait", wait,
				"daily_remaining", rl.DailyRemaining,
			)
			c.metrics.ObserveWait(wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []Record{}
	}

	c.metrics.ObserveRecords(len(records))
	c.logger.Debug("collected records", "uri", uri, "pages", pages, "records", len(records))
	return records, nil
}
