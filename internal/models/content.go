package models

// ContentAssets holds references to the images of a content item.
// A reference is either an http(s) URL or a local file path.
type ContentAssets struct {
	Image string `json:"image,omitempty"`
	Logo  string `json:"logo,omitempty"`
}

// ContentItem is a record describing what a media file is about
type ContentItem struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Genre       string            `json:"genre,omitempty"`
	Area        string            `json:"area,omitempty"`
	Description string            `json:"description,omitempty"`
	Assets      ContentAssets     `json:"assets"`
	Fields      map[string]string `json:"fields,omitempty"`
}
