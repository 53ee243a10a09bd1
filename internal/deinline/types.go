package deinline

import (
	"fmt"
	"path/filepath"
	"time"
)

// ReplacePolicy decides how duplicate data URLs are rewritten.
type ReplacePolicy string

const (
	// ReplaceLast maps every identical data URL to the path of its last
	// successful match. Earlier files for the same URL stay on disk unreferenced.
	ReplaceLast ReplacePolicy = "last"
	// ReplaceFirst reuses the first path for later identical data URLs and
	// writes no file for them.
	ReplaceFirst ReplacePolicy = "first"
	// ReplacePositional rewrites each match span with its own file.
	ReplacePositional ReplacePolicy = "positional"
)

// ParseReplacePolicy converts s to a ReplacePolicy. An empty string yields ReplaceLast.
func ParseReplacePolicy(s string) (ReplacePolicy, error) {
	switch ReplacePolicy(s) {
	case "":
		return ReplaceLast, nil
	case ReplaceLast, ReplaceFirst, ReplacePositional:
		return ReplacePolicy(s), nil
	default:
		return "", fmt.Errorf("unknown replace policy %q (want last, first or positional)", s)
	}
}

// Job describes one document to process.
type Job struct {
	Name         string `json:"name,omitempty" yaml:"name"`
	Input        string `json:"input" yaml:"input"`
	Output       string `json:"output" yaml:"output"`
	AssetsDir    string `json:"assets_dir" yaml:"assets_dir"`
	AssetsPrefix string `json:"assets_prefix,omitempty" yaml:"assets_prefix"`
}

// Label names the job in logs: its Name, or its input path.
func (j Job) Label() string {
	if j.Name != "" {
		return j.Name
	}
	return j.Input
}

// Prefix returns the relative reference written into the document: the
// explicit AssetsPrefix, or "./" followed by the base name of AssetsDir.
func (j Job) Prefix() string {
	if j.AssetsPrefix != "" {
		return j.AssetsPrefix
	}
	base := filepath.Base(filepath.Clean(j.AssetsDir))
	if base == "." || base == string(filepath.Separator) {
		return "."
	}
	return "./" + base
}

// Image is one extracted file.
type Image struct {
	Index    int    `json:"index"`
	Subtype  string `json:"subtype"`
	Filename string `json:"filename"`
	Ref      string `json:"ref"` // relative reference written into the document
	Size     int64  `json:"size"`
}

// Failure is a match whose payload could not be decoded.
type Failure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Audit summarises references found in the rewritten document.
type Audit struct {
	Elements     int      `json:"elements"`
	AssetRefs    int      `json:"asset_refs"`
	InlineLeft   int      `json:"inline_left"`
	MissingFiles []string `json:"missing_files,omitempty"`
}

// RunStatus represents the lifecycle state of an extraction run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial" // finished with per-match failures
	RunStatusFailed  RunStatus = "failed"
)

// RunRecord tracks a single extraction run.
type RunRecord struct {
	ID          string        `json:"id"`
	Job         Job           `json:"job"`
	Policy      ReplacePolicy `json:"policy"`
	Status      RunStatus     `json:"status"`
	Matches     int           `json:"matches"`
	Images      []Image       `json:"images"`
	Failures    []Failure     `json:"failures,omitempty"`
	Kept        []int         `json:"kept,omitempty"`
	Audit       *Audit        `json:"audit,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Finish stamps the record with its terminal status.
func (r *RunRecord) Finish(err error) {
	now := time.Now()
	r.CompletedAt = &now
	switch {
	case err != nil:
		msg := err.Error()
		r.Error = &msg
		r.Status = RunStatusFailed
	case len(r.Failures) > 0:
		r.Status = RunStatusPartial
	default:
		r.Status = RunStatusSuccess
	}
}
