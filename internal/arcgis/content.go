package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Item describes a content item in the organization.
type Item struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// PublishedService is one service entry from a publish response.
type PublishedService struct {
	ServiceItemID string    `json:"serviceItemId"`
	ServiceURL    string    `json:"serviceurl"`
	Error         *apiError `json:"error"`
}

// Item fetches the metadata of a content item. Used both to resolve the
// owning user (update and publish URLs are user-scoped) and to fail fast
// on a mistyped item ID.
func (c *Client) Item(ctx context.Context, itemID string) (*Item, error) {
	if itemID == "" {
		return nil, fmt.Errorf("item ID cannot be empty")
	}

	var item Item
	if err := c.getJSON(ctx, sharingPath+"/content/items/"+itemID, &item); err != nil {
		return nil, fmt.Errorf("failed to look up item %s: %w", itemID, err)
	}
	if item.ID == "" {
		return nil, fmt.Errorf("item %s not found", itemID)
	}

	return &item, nil
}

// UpdateItemData replaces the stored file of a content item with the given
// data, uploaded as a multipart form.
func (c *Client) UpdateItemData(ctx context.Context, owner, itemID, filename string, data io.Reader) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("f", "json"); err != nil {
		return err
	}
	if c.token != "" {
		if err := mw.WriteField("token", c.token); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return fmt.Errorf("failed to buffer upload data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	path := fmt.Sprintf("%s/content/users/%s/items/%s/update", sharingPath, owner, itemID)
	req, err := c.newUploadRequest(ctx, path, &body, mw.FormDataContentType())
	if err != nil {
		return err
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("failed to update item %s: %w", itemID, err)
	}
	if !resp.Success {
		return fmt.Errorf("failed to update item %s: service reported failure", itemID)
	}

	return nil
}

// PublishOverwrite republishes a CSV item onto its existing hosted feature
// service, overwriting the layer content with the item's current data.
func (c *Client) PublishOverwrite(ctx context.Context, owner, itemID, serviceName string) (*PublishedService, error) {
	publishParams, err := json.Marshal(map[string]interface{}{
		"name":      serviceName,
		"overwrite": true,
	})
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("fileType", "csv")
	form.Set("overwrite", "true")
	form.Set("publishParameters", string(publishParams))

	var resp struct {
		Services []PublishedService `json:"services"`
	}
	path := fmt.Sprintf("%s/content/users/%s/items/%s/publish", sharingPath, owner, itemID)
	if err := c.postForm(ctx, path, form, &resp); err != nil {
		return nil, fmt.Errorf("failed to publish item %s: %w", itemID, err)
	}
	if len(resp.Services) == 0 {
		return nil, fmt.Errorf("failed to publish item %s: no services in response", itemID)
	}

	svc := resp.Services[0]
	if svc.Error != nil {
		return nil, fmt.Errorf("failed to publish item %s: %w", itemID, svc.Error)
	}

	return &svc, nil
}

// EnableTime turns on time animation for the first layer of a feature
// service, using its date column as the time field.
func (c *Client) EnableTime(ctx context.Context, serviceURL, timeField string) error {
	if serviceURL == "" {
		return fmt.Errorf("service URL cannot be empty")
	}

	definition, err := json.Marshal(map[string]interface{}{
		"timeInfo": map[string]interface{}{
			"timeField":  timeField,
			"timeFormat": "esriTimeUnitsMinutes",
		},
	})
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("updateDefinition", string(definition))
	form.Set("async", "false")

	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.postForm(ctx, adminLayerURL(serviceURL)+"/updateDefinition", form, &resp); err != nil {
		return fmt.Errorf("failed to enable time on %s: %w", serviceURL, err)
	}
	if !resp.Success {
		return fmt.Errorf("failed to enable time on %s: service reported failure", serviceURL)
	}

	return nil
}

// adminLayerURL maps a feature service URL onto the admin endpoint of its
// first layer, where updateDefinition lives.
func adminLayerURL(serviceURL string) string {
	adminURL := strings.Replace(serviceURL, "/rest/services/", "/rest/admin/services/", 1)
	return strings.TrimRight(adminURL, "/") + "/0"
}

// newUploadRequest builds a multipart POST against path.
func (c *Client) newUploadRequest(ctx context.Context, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}
