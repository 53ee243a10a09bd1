// Package dataurl finds base64 image data URLs embedded in text.
//
// Only the form data:image/<subtype>;base64,<payload> is recognised, where
// subtype is lowercase letters and '+', and payload is drawn from the standard
// base64 alphabet. Anything else passes through untouched.
package dataurl

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`data:image/([a-z+]+);base64,([A-Za-z0-9+/=]+)`)

// extensions maps image subtypes to file extensions. Subtypes not listed
// fall back to the subtype itself with '+' replaced by '_'.
var extensions = map[string]string{
	"svg+xml": "svg",
	"png":     "png",
	"jpeg":    "jpg",
	"jpg":     "jpg",
	"gif":     "gif",
	"webp":    "webp",
}

// Ref is one data URL occurrence in a document.
type Ref struct {
	// Raw is the full matched text, e.g. "data:image/png;base64,iVBOR...".
	Raw     string
	Subtype string
	Payload string
	// Start and End are byte offsets of Raw within the scanned document.
	Start int
	End   int
}

// Scan returns every non-overlapping data URL in doc, leftmost first.
func Scan(doc string) []Ref {
	locs := pattern.FindAllStringSubmatchIndex(doc, -1)
	refs := make([]Ref, 0, len(locs))
	for _, loc := range locs {
		refs = append(refs, Ref{
			Raw:     doc[loc[0]:loc[1]],
			Subtype: doc[loc[2]:loc[3]],
			Payload: doc[loc[4]:loc[5]],
			Start:   loc[0],
			End:     loc[1],
		})
	}
	return refs
}

// Extension returns the file extension (without dot) for an image subtype.
func Extension(subtype string) string {
	if ext, ok := extensions[subtype]; ok {
		return ext
	}
	return strings.ReplaceAll(subtype, "+", "_")
}

// Decode returns the payload bytes using standard, padded base64.
func (r Ref) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Payload)
}

// MediaType returns the MIME type of the reference, e.g. "image/png".
func (r Ref) MediaType() string {
	return "image/" + r.Subtype
}

// Ext is shorthand for Extension(r.Subtype).
func (r Ref) Ext() string {
	return Extension(r.Subtype)
}
