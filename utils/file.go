// utils/file.go
package utils

import (
	"path/filepath"
	"strings"
)

// ImageExtensions is the allow-list for compliance screenshots.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// IsImageFile reports whether name has an allowed image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range ImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// IsStockUnit reports whether name looks like a stock unit file.
func IsStockUnit(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt")
}

// CleanUnitName strips any directory part from an uploaded or requested
// unit name. It returns "" when nothing usable is left.
func CleanUnitName(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." {
		return ""
	}
	return base
}
