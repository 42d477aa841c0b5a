package binding

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amaumene/grainlink/internal/models"
	"golang.org/x/text/width"
)

// StripID derives the content identifier from a media file name: the base
// name without its extension. Full-width characters are folded so that
// "００１.mp4" yields "001".
func StripID(file string) string {
	base := filepath.Base(file)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(width.Fold.String(id))
}

// Resolve returns the item bound to the playing file, or nil when none
// matches. An item matches when its id equals the stripped file name, or
// when both parse to the same number ("001" matches id "1").
func Resolve(playing string, items []models.ContentItem) *models.ContentItem {
	id := StripID(playing)
	if id == "" {
		return nil
	}
	num, numeric := parseNumber(id)

	for i := range items {
		itemID := strings.TrimSpace(items[i].ID)
		if itemID == "" {
			continue
		}
		if itemID == id {
			return &items[i]
		}
		if numeric {
			if n, ok := parseNumber(itemID); ok && n == num {
				return &items[i]
			}
		}
	}
	return nil
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
