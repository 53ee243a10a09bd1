// Package audit inspects a rewritten document and reports which image
// references point at extracted assets and which are still inline.
package audit

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/soochol/deinline/internal/deinline"
)

var cssURL = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// assetName matches the file names the extractor writes.
var assetName = regexp.MustCompile(`^image_[0-9]+\.[a-z_]+$`)

// refAttrs are attributes that may carry an image reference.
var refAttrs = map[string]bool{
	"src":    true,
	"srcset": true,
	"href":   true, // includes SVG xlink:href
	"poster": true,
	"style":  true,
}

// Inspect parses doc as HTML and counts references. prefix is the relative
// reference prefix used for extracted files, e.g. "./assets"; only references
// naming an extracted file (image_<n>.<ext>) under it count as assets. exists,
// when non-nil, is asked about every referenced asset file name.
func Inspect(doc, prefix string, exists func(name string) bool) (*deinline.Audit, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	prefix = strings.TrimSuffix(prefix, "/") + "/"
	a := &deinline.Audit{}
	missing := make(map[string]bool)

	count := func(ref string) {
		ref = strings.TrimSpace(ref)
		switch {
		case strings.HasPrefix(ref, "data:image/"):
			a.InlineLeft++
		case strings.HasPrefix(ref, prefix) && assetName.MatchString(strings.TrimPrefix(ref, prefix)):
			a.AssetRefs++
			name := strings.TrimPrefix(ref, prefix)
			if exists != nil && !exists(name) {
				missing[name] = true
			}
		}
	}

	d.Find("*").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if isMediaElement(n) {
			a.Elements++
		}
		for _, attr := range n.Attr {
			if !refAttrs[attr.Key] {
				continue
			}
			for _, ref := range references(attr.Key, attr.Val) {
				count(ref)
			}
		}
		if n.DataAtom == atom.Style {
			for _, ref := range cssReferences(s.Text()) {
				count(ref)
			}
		}
	})

	for name := range missing {
		a.MissingFiles = append(a.MissingFiles, name)
	}
	sort.Strings(a.MissingFiles)
	return a, nil
}

func isMediaElement(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Img, atom.Source, atom.Image, atom.Video:
		return true
	case atom.Input:
		for _, attr := range n.Attr {
			if attr.Key == "type" && strings.EqualFold(attr.Val, "image") {
				return true
			}
		}
	}
	return false
}

func references(key, val string) []string {
	switch key {
	case "style":
		return cssReferences(val)
	case "srcset":
		var refs []string
		for _, candidate := range strings.Split(val, ",") {
			if fields := strings.Fields(candidate); len(fields) > 0 {
				refs = append(refs, fields[0])
			}
		}
		return refs
	default:
		return []string{val}
	}
}

func cssReferences(css string) []string {
	var refs []string
	for _, m := range cssURL.FindAllStringSubmatch(css, -1) {
		refs = append(refs, m[1])
	}
	return refs
}
