// Package extract pulls base64 data-URL images out of a document into files
// and rewrites the document to reference those files.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soochol/deinline/internal/dataurl"
	"github.com/soochol/deinline/internal/deinline"
	"github.com/soochol/deinline/internal/storage"
)

// DefaultPrefix is the relative reference used when none is configured.
const DefaultPrefix = "./assets"

// Extractor runs one extraction pass. It holds no per-run state, so a single
// Extractor may be reused; every Run starts its counter at 1.
type Extractor struct {
	Store  storage.Storage
	Prefix string // relative reference prefix, e.g. "./assets"
	Policy deinline.ReplacePolicy
	Keep   *KeepFilter
}

// Result is the outcome of one Run.
type Result struct {
	Document string
	Matches  int
	Images   []deinline.Image
	Failures []deinline.Failure
	Kept     []int
	// Mapping is data URL text to relative reference, as used for rewriting.
	Mapping map[string]string
}

// Run extracts every data-URL image in doc, in scan order. Decode failures
// are recorded and skipped; a store write error aborts the run.
func (e *Extractor) Run(ctx context.Context, doc string) (*Result, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("extractor has no store")
	}
	policy := e.Policy
	if policy == "" {
		policy = deinline.ReplaceLast
	}

	refs := dataurl.Scan(doc)
	res := &Result{
		Matches: len(refs),
		Images:  []deinline.Image{},
		Mapping: make(map[string]string),
	}
	paths := make([]string, len(refs))
	var protected []dataurl.Ref

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := i + 1
		ext := ref.Ext()
		data, decErr := ref.Decode()

		if e.keep(n, ref, ext, data, decErr) {
			res.Kept = append(res.Kept, n)
			protected = append(protected, ref)
			emitLog(ctx, fmt.Sprintf("• image %d kept inline", n))
			continue
		}

		if decErr != nil {
			res.Failures = append(res.Failures, deinline.Failure{Index: n, Error: decErr.Error()})
			protected = append(protected, ref)
			emitLog(ctx, fmt.Sprintf("✗ image %d decode failed: %v", n, decErr))
			slog.Debug("decode failed", "index", n, "subtype", ref.Subtype, "err", decErr)
			continue
		}

		if policy == deinline.ReplaceFirst {
			if prev, ok := res.Mapping[ref.Raw]; ok {
				paths[i] = prev
				emitLog(ctx, fmt.Sprintf("• image %d reuses %s", n, prev))
				continue
			}
		}

		filename := fmt.Sprintf("image_%d.%s", n, ext)
		info, err := e.Store.Save(ctx, filename, ref.MediaType(), bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", filename, err)
		}

		path := e.reference(filename)
		res.Mapping[ref.Raw] = path
		paths[i] = path
		res.Images = append(res.Images, deinline.Image{
			Index:    n,
			Subtype:  ref.Subtype,
			Filename: filename,
			Ref:      path,
			Size:     info.Size,
		})
		emitLog(ctx, fmt.Sprintf("✓ %s saved", filename))
		slog.Debug("image extracted", "index", n, "file", filename, "size", info.Size)
	}

	if policy == deinline.ReplacePositional {
		res.Document = replacePositional(doc, refs, paths)
	} else {
		res.Document = replaceKeyed(doc, res.Mapping, protected)
	}
	return res, nil
}

func (e *Extractor) keep(n int, ref dataurl.Ref, ext string, data []byte, decErr error) bool {
	if e.Keep == nil {
		return false
	}
	size := len(data)
	if decErr != nil {
		size = -1
	}
	keep, err := e.Keep.Match(KeepEnv{
		Index:      n,
		Subtype:    ref.Subtype,
		Ext:        ext,
		Size:       size,
		PayloadLen: len(ref.Payload),
	})
	if err != nil {
		slog.Warn("keep_inline evaluation failed", "index", n, "err", err)
		return false
	}
	return keep
}

func (e *Extractor) reference(filename string) string {
	prefix := strings.TrimSuffix(e.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "/" + filename
}
