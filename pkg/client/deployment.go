package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/denysvitali/deployment-downloader/internal/models"
)

// TreeURL returns the listing endpoint of a deployment
func (c *Client) TreeURL(deploymentID string) string {
	return fmt.Sprintf("%s/%s/files", c.baseURL, url.PathEscape(deploymentID))
}

// FileURL returns the content endpoint of a single file
func (c *Client) FileURL(deploymentID, uid string) string {
	return fmt.Sprintf("%s/%s/files/%s", c.baseURL, url.PathEscape(deploymentID), url.PathEscape(uid))
}

// FetchTree retrieves the root-level entries of a deployment's file tree
func (c *Client) FetchTree(ctx context.Context, deploymentID string) ([]models.TreeNode, error) {
	ctx, span := c.tracer.Start(ctx, "fetch_tree")
	defer span.End()
	span.SetAttributes(attribute.String("deployment.id", deploymentID))

	u := c.TreeURL(deploymentID)
	body, err := c.Request(ctx, u)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if kind := jsonKind(body); kind != "array" {
		err := &InvalidResponseShapeError{URL: u, Kind: kind}
		span.RecordError(err)
		return nil, err
	}

	var nodes []models.TreeNode
	if err := json.Unmarshal(body, &nodes); err != nil {
		derr := &DecodeError{URL: u, Err: err}
		span.RecordError(derr)
		return nil, derr
	}

	span.SetAttributes(attribute.Int("tree.root_entries", len(nodes)))
	return nodes, nil
}

// FetchFile retrieves the content envelope of a single file
func (c *Client) FetchFile(ctx context.Context, deploymentID, uid string) (*models.FileContent, error) {
	u := c.FileURL(deploymentID, uid)
	body, err := c.Request(ctx, u)
	if err != nil {
		return nil, err
	}

	var content models.FileContent
	if kind := jsonKind(body); kind != "object" {
		// any non-object body carries no data field
		return &content, nil
	}
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, &DecodeError{URL: u, Err: err}
	}
	return &content, nil
}

// jsonKind names the top-level JSON value of a valid document
func jsonKind(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty"
	}
	switch trimmed[0] {
	case '[':
		return "array"
	case '{':
		return "object"
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
