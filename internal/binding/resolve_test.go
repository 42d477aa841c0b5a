package binding

import (
	"testing"

	"github.com/amaumene/grainlink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripID(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"/media/videos/001.mp4", "001"},
		{"shop_123.mp4", "shop_123"},
		{"/media/videos/archive.tar.gz", "archive.tar"},
		{"noext", "noext"},
		{"/media/videos/００１.mp4", "001"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, StripID(tt.file))
		})
	}
}

func TestResolve(t *testing.T) {
	items := []models.ContentItem{
		{ID: "1", Name: "one"},
		{ID: "shop_123", Name: "named"},
		{ID: "", Name: "blank"},
		{ID: "042", Name: "padded"},
	}

	tests := []struct {
		name    string
		playing string
		want    string
	}{
		{"zero padded file matches numeric id", "/v/001.mp4", "one"},
		{"exact string match", "/v/shop_123.mp4", "named"},
		{"numeric match both padded", "/v/42.mp4", "padded"},
		{"no match", "/v/7.mp4", ""},
		{"non numeric no match", "/v/shop_124.mp4", ""},
		{"empty file never matches", "", ""},
		{"zero does not match blank id", "/v/0.mp4", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.playing, items)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	items := []models.ContentItem{
		{ID: "01", Name: "first"},
		{ID: "1", Name: "second"},
	}
	got := Resolve("1.mp4", items)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Name)
}

func TestStore(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.Items())

	items := []models.ContentItem{{ID: "1"}}
	s.Replace(items)
	items[0].ID = "changed"

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "1", s.Items()[0].ID)
}
