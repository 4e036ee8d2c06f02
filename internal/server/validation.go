package server

import (
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"filevault/internal/blobstore"
	"filevault/internal/models"
)

const (
	maxFilenameBytes  = 255
	maxPathBytes      = 1024
	maxExtensionBytes = 16
)

// sanitizeFilename keeps the last path element of raw, drops control
// characters, and caps the result at maxFilenameBytes without losing a
// short extension.
func sanitizeFilename(raw string) (string, error) {
	name := raw
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = stripControl(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", badRequestCode(fmt.Errorf("invalid filename %q", raw), ErrCodeInvalidFilename)
	}
	return capName(name), nil
}

// sanitizePath normalizes a slash-separated folder path. Empty and "."
// segments collapse; ".." is rejected. The root folder is "".
func sanitizePath(raw string) (string, error) {
	raw = strings.ReplaceAll(raw, `\`, "/")
	segments := make([]string, 0, 4)
	for _, segment := range strings.Split(raw, "/") {
		segment = strings.TrimSpace(stripControl(segment))
		switch segment {
		case "", ".":
			continue
		case "..":
			return "", badRequestCode(fmt.Errorf("path must not contain '..'"), ErrCodeInvalidPath)
		}
		segments = append(segments, capName(segment))
	}
	cleaned := strings.Join(segments, "/")
	if len(cleaned) > maxPathBytes {
		return "", badRequestCode(fmt.Errorf("path exceeds %d bytes", maxPathBytes), ErrCodeInvalidPath)
	}
	return cleaned, nil
}

func stripControl(value string) string {
	value = strings.ToValidUTF8(value, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}

func capName(name string) string {
	if len(name) <= maxFilenameBytes {
		return name
	}
	ext := path.Ext(name)
	if len(ext) > maxExtensionBytes || len(ext) == len(name) {
		ext = ""
	}
	stem := truncateUTF8(strings.TrimSuffix(name, ext), maxFilenameBytes-len(ext))
	return stem + ext
}

func truncateUTF8(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return value[:limit]
}

func normalizeDigest(raw string) (string, error) {
	digest := strings.ToLower(strings.TrimSpace(raw))
	if !blobstore.ValidDigest(digest) {
		return "", badRequestCode(fmt.Errorf("invalid sha256 digest"), ErrCodeInvalidDigest)
	}
	return digest, nil
}

func normalizeSort(field, order string) (models.FileSortField, bool, error) {
	sort, err := models.ParseFileSortField(field)
	if err != nil {
		return "", false, badRequestCode(err, ErrCodeInvalidQuery)
	}
	desc, err := models.ParseSortDescending(order)
	if err != nil {
		return "", false, badRequestCode(err, ErrCodeInvalidQuery)
	}
	return sort, desc, nil
}
