package extract

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// KeepEnv is the environment a keep-inline expression is evaluated against.
type KeepEnv struct {
	Index      int    `expr:"index"`
	Subtype    string `expr:"subtype"`
	Ext        string `expr:"ext"`
	Size       int    `expr:"size"` // decoded bytes, -1 when the payload is malformed
	PayloadLen int    `expr:"payload_len"`
}

// KeepFilter selects matches that stay inline in the rewritten document.
// Example: "size < 1024 || subtype == 'svg+xml'".
type KeepFilter struct {
	source  string
	program *vm.Program
}

// NewKeepFilter compiles expression. An empty expression yields a nil filter,
// which keeps nothing.
func NewKeepFilter(expression string) (*KeepFilter, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(KeepEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile keep_inline %q: %w", expression, err)
	}
	return &KeepFilter{source: expression, program: program}, nil
}

// Match reports whether the match described by env should stay inline.
func (f *KeepFilter) Match(env KeepEnv) (bool, error) {
	if f == nil {
		return false, nil
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate keep_inline %q: %w", f.source, err)
	}
	keep, _ := out.(bool)
	return keep, nil
}

func (f *KeepFilter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}
