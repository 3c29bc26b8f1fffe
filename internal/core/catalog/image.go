package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"

	"bggsync/internal/syncerr"
)

// Square caps catalog images at 15MB.
const maxAssetBytes = 15 << 20

type createImageRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	ObjectID       string      `json:"object_id"`
	Image          imageObject `json:"image"`
	IsPrimary      bool        `json:"is_primary"`
}

type imageObject struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	ImageData imageData `json:"image_data"`
}

type imageData struct {
	Name    string `json:"name,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type createImageResponse struct {
	Image struct {
		ID string `json:"id"`
	} `json:"image"`
}

// IdempotencyKey is stable for a (run, item, asset) triple, so a retried
// upload within one run is deduplicated by the catalog while a later run
// gets a fresh key.
func IdempotencyKey(runID, itemID, assetURL string) string {
	sum := sha256.Sum256([]byte(runID + "|" + itemID + "|" + assetURL))
	return hex.EncodeToString(sum[:])
}

// UploadAsset downloads assetURL and attaches it to itemID as the primary
// image, returning the new image id.
func (c *Client) UploadAsset(ctx context.Context, itemID, assetURL, label string) (string, error) {
	if err := c.requireToken(); err != nil {
		return "", err
	}
	data, contentType, err := c.fetchAsset(ctx, assetURL)
	if err != nil {
		return "", err
	}

	if c.archive != nil {
		if location, err := c.archive.Archive(ctx, itemID, assetURL, contentType, data); err != nil {
			c.log.LogWarnf("archive of %s for item %s failed: %v", assetURL, itemID, err)
		} else {
			c.log.LogDebugf("archived asset for item %s at %s", itemID, location)
		}
	}

	key := IdempotencyKey(RunIDFromContext(ctx), itemID, assetURL)
	payload := createImageRequest{
		IdempotencyKey: key,
		ObjectID:       itemID,
		Image: imageObject{
			Type:      "IMAGE",
			ID:        "#bgg-image",
			ImageData: imageData{Name: label, Caption: label},
		},
		IsPrimary: true,
	}
	body, boundary, err := multipartBody(payload, fileName(assetURL, contentType), contentType, data)
	if err != nil {
		return "", syncerr.Wrap(syncerr.ErrUpload, "catalog", "encode image request", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v2/catalog/images", body)
	if err != nil {
		return "", syncerr.Wrap(syncerr.ErrUpload, "catalog", "build image request", err)
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	r, err := c.send(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", syncerr.Wrap(syncerr.ErrUpload, "catalog", "create image for "+itemID, err)
	}
	if !r.ok() {
		return "", statusError("create image for "+itemID, r, syncerr.ErrUpload)
	}
	var out createImageResponse
	if err := json.Unmarshal(r.body, &out); err != nil || out.Image.ID == "" {
		return "", syncerr.Wrap(syncerr.ErrUpload, "catalog", "create image for "+itemID+": no image id in response", err)
	}
	c.log.Info().Str("item_id", itemID).Str("image_id", out.Image.ID).Msg("image attached")
	return out.Image.ID, nil
}

func (c *Client) fetchAsset(ctx context.Context, assetURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, "", syncerr.Wrap(syncerr.ErrDownload, "catalog", "bad asset url "+assetURL, err)
	}
	resp, err := c.download.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", syncerr.Wrap(syncerr.ErrDownload, "catalog", "fetch "+assetURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", syncerr.Wrap(syncerr.ErrDownload, "catalog", fmt.Sprintf("fetch %s returned %d", assetURL, resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, "", syncerr.Wrap(syncerr.ErrDownload, "catalog", "read "+assetURL, err)
	}
	if len(data) == 0 {
		return nil, "", syncerr.Wrap(syncerr.ErrDownload, "catalog", "empty asset "+assetURL, nil)
	}
	if len(data) > maxAssetBytes {
		return nil, "", syncerr.Wrap(syncerr.ErrDownload, "catalog", "asset too large "+assetURL, nil)
	}
	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || !strings.HasPrefix(mt, "image/") {
		contentType = http.DetectContentType(data)
	} else {
		contentType = mt
	}
	return data, contentType, nil
}

func multipartBody(payload createImageRequest, filename, contentType string, data []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	reqHeader := textproto.MIMEHeader{}
	reqHeader.Set("Content-Disposition", `form-data; name="request"`)
	reqHeader.Set("Content-Type", "application/json")
	part, err := w.CreatePart(reqHeader)
	if err != nil {
		return nil, "", err
	}
	if err := json.NewEncoder(part).Encode(payload); err != nil {
		return nil, "", err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename=%q`, filename))
	fileHeader.Set("Content-Type", contentType)
	part, err = w.CreatePart(fileHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.Boundary(), nil
}

func fileName(assetURL, contentType string) string {
	base := path.Base(strings.SplitN(assetURL, "?", 2)[0])
	if base != "" && base != "." && base != "/" && path.Ext(base) != "" {
		return base
	}
	ext := ".jpg"
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		ext = exts[0]
	}
	return "image" + ext
}
