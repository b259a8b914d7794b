package apiclient

import (
	"context"
	"fmt"
)

// getResource GETs path and decodes the body into a T.
func getResource[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var result T
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// listResources GETs path and decodes the body into a []T.
func listResources[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var results []T
	if err := c.get(ctx, path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// postResource POSTs body to path and decodes the response into a T.
func postResource[T any](ctx context.Context, c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.post(ctx, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func resourcePath(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
