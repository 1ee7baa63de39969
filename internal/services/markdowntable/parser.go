// Package markdowntable validates that vision-extracted text is actually a
// markdown table before the orchestrator treats extraction as successful.
// Grounded in the teacher's internal/services/pdf/service.go, which parses
// LLM-produced markdown with goldmark's table extension to walk the
// resulting AST; here the AST walk counts data rows instead of rendering.
package markdowntable

import (
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// RowCount parses source and returns the number of body rows in the first
// table it finds. An error wrapping interfaces.ErrExtractionFailed is
// returned when source contains no table at all; the vision tool passes it
// to the model as a tool error.
func RowCount(source string) (int, error) {
	reader := text.NewReader([]byte(source))
	doc := md.Parser().Parse(reader)

	var rows int
	var found bool

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, ok := n.(*extast.Table); ok {
			if found {
				return ast.WalkStop, nil
			}
			found = true
		}
		if _, ok := n.(*extast.TableRow); ok {
			rows++
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: parsing extracted markdown: %v", interfaces.ErrExtractionFailed, err)
	}
	if !found {
		return 0, fmt.Errorf("%w: vision response contained no markdown table", interfaces.ErrExtractionFailed)
	}
	return rows, nil
}
