package m365

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/go-querystring/query"
)

// ODataQuery holds the OData system query options used by the commands.
type ODataQuery struct {
	Filter string `url:"$filter,omitempty"`
	Select string `url:"$select,omitempty"`
	Expand string `url:"$expand,omitempty"`
	Top    int    `url:"$top,omitempty"`
}

// WithQuery appends the encoded OData options to base.
func WithQuery(base string, q ODataQuery) (string, error) {
	v, err := query.Values(q)
	if err != nil {
		return "", fmt.Errorf("could not encode query: %w", err)
	}
	if len(v) == 0 {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	existing := u.Query()
	for k, vals := range v {
		for _, val := range vals {
			existing.Add(k, val)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}

// page is a single page of a collection response.
type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// GetAll retrieves every item of a collection, following @odata.nextLink until the
// last page.
func GetAll[T any](ctx context.Context, c *Client, r Request) ([]T, error) {
	var all []T
	next := r.URL
	pages := 0
	for next != "" {
		r.URL = next
		var p page[T]
		if err := c.Get(ctx, r, &p); err != nil {
			c.log.Debug(fmt.Sprintf("GetAll: failed to retrieve page %d: %v", pages+1, err))
			return nil, err
		}
		all = append(all, p.Value...)
		next = p.NextLink
		pages++
	}
	c.log.Debug(fmt.Sprintf("GetAll: retrieved %d items in %d pages", len(all), pages))
	return all, nil
}
