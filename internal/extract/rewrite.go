package extract

import (
	"sort"
	"strings"

	"github.com/soochol/deinline/internal/dataurl"
)

// replaceKeyed replaces every occurrence of every mapping key in doc with its
// value. Spans listed in protected are copied through untouched; they must be
// sorted and non-overlapping. Longer keys win when one key is a prefix of
// another.
func replaceKeyed(doc string, mapping map[string]string, protected []dataurl.Ref) string {
	if len(mapping) == 0 {
		return doc
	}

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, mapping[k])
	}
	r := strings.NewReplacer(pairs...)

	if len(protected) == 0 {
		return r.Replace(doc)
	}

	var sb strings.Builder
	sb.Grow(len(doc))
	pos := 0
	for _, span := range protected {
		sb.WriteString(r.Replace(doc[pos:span.Start]))
		sb.WriteString(doc[span.Start:span.End])
		pos = span.End
	}
	sb.WriteString(r.Replace(doc[pos:]))
	return sb.String()
}

// replacePositional rewrites each match span whose path is non-empty.
// paths is indexed like refs.
func replacePositional(doc string, refs []dataurl.Ref, paths []string) string {
	var sb strings.Builder
	sb.Grow(len(doc))
	pos := 0
	for i, ref := range refs {
		if paths[i] == "" {
			continue
		}
		sb.WriteString(doc[pos:ref.Start])
		sb.WriteString(paths[i])
		pos = ref.End
	}
	sb.WriteString(doc[pos:])
	return sb.String()
}
