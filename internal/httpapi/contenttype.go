package httpapi

import (
	"mime"
	"path/filepath"
)

// contentTypeFor derives a Content-Type for a served static asset from its
// file extension. staticassets.FileContent carries no content-type field of
// its own, so this is resolved at serve time instead — stdlib mime is the
// natural fit here since no library in the corpus offers a content-type
// sniffer.
func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
