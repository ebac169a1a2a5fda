package constants

import "strings"

// TableFormats holds the allowed formats for input documents.
var TableFormats = []string{"CSV", "XLSX"}

// AllowedExtensions holds the default allowed file extensions for input documents.
var AllowedExtensions = map[string]struct{}{
	"csv":  {},
	"xlsx": {},
	"xlsm": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a normalized extension to its table format, or "" if unsupported.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "csv":
		return "CSV"
	case "xlsx", "xlsm":
		return "XLSX"
	}
	return ""
}
