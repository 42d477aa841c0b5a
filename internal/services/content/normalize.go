package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/amaumene/grainlink/internal/models"
)

// field aliases in order of preference
var (
	idKeys          = []string{"shopId", "shop_id", "id"}
	nameKeys        = []string{"shopName", "shop_name", "name"}
	imageLocalKeys  = []string{"photo2LocalPath"}
	imageRemoteKeys = []string{"photo2", "image_url", "imageUrl"}
	logoLocalKeys   = []string{"shopLogoLocalPath"}
	logoRemoteKeys  = []string{"shopLogo"}
)

var known = map[string]bool{
	"shopId": true, "shop_id": true, "id": true,
	"shopName": true, "shop_name": true, "name": true,
	"photo2LocalPath": true, "photo2": true, "image_url": true, "imageUrl": true,
	"shopLogoLocalPath": true, "shopLogo": true,
	"genre": true, "area": true, "description": true,
}

// Normalize converts a raw content payload into items. The payload is a
// JSON array of records, or an object wrapping one under "data" or
// "items". Any other shape yields no items.
func Normalize(raw []byte) ([]models.ContentItem, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode content payload: %w", err)
	}

	var list []interface{}
	switch p := payload.(type) {
	case []interface{}:
		list = p
	case map[string]interface{}:
		if data, ok := p["data"].([]interface{}); ok {
			list = data
		} else if items, ok := p["items"].([]interface{}); ok {
			list = items
		}
	}

	items := make([]models.ContentItem, 0, len(list))
	for _, entry := range list {
		record, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		items = append(items, normalizeRecord(record))
	}
	return items, nil
}

func normalizeRecord(record map[string]interface{}) models.ContentItem {
	item := models.ContentItem{
		ID:          first(record, idKeys),
		Name:        first(record, nameKeys),
		Genre:       scalar(record["genre"]),
		Area:        scalar(record["area"]),
		Description: scalar(record["description"]),
		Assets: models.ContentAssets{
			Image: asset(record, imageLocalKeys, imageRemoteKeys),
			Logo:  asset(record, logoLocalKeys, logoRemoteKeys),
		},
	}

	for key, value := range record {
		if known[key] {
			continue
		}
		s := scalar(value)
		if s == "" {
			continue
		}
		if item.Fields == nil {
			item.Fields = make(map[string]string)
		}
		item.Fields[key] = s
	}
	return item
}

// asset prefers a local path, converted to this platform's separators
func asset(record map[string]interface{}, local, remote []string) string {
	if p := first(record, local); p != "" {
		return filepath.FromSlash(strings.ReplaceAll(p, `\`, "/"))
	}
	return first(record, remote)
}

func first(record map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s := scalar(record[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
