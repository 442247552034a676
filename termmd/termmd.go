// Package termmd renders Markdown as terminal text.
//
// The model answers in Markdown; this package parses it (including GFM
// tables, strikethrough, and task lists) and produces ANSI-styled text for
// TTY output, or plain text for pipes.
//
// Markdown features without a terminal equivalent are approximated:
//   - Headings become bold lines
//   - Code blocks are indented verbatim
//   - Links become "text (url)"
//   - Tables become padded, aligned rows
//   - Horizontal rules become a line of dashes
package termmd

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	sgrReset  = "\x1b[0m"
	sgrBold   = "\x1b[1m"
	sgrDim    = "\x1b[2m"
	sgrItalic = "\x1b[3m"
	sgrStrike = "\x1b[9m"
	sgrCyan   = "\x1b[36m"
)

const codeIndent = "    "

// Render converts Markdown into ANSI-styled terminal text.
func Render(markdown string) string {
	return render(markdown, true)
}

// Plain converts Markdown into unstyled text for non-TTY output.
func Plain(markdown string) string {
	return render(markdown, false)
}

func render(markdown string, color bool) string {
	source := []byte(markdown)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	r := &renderer{source: source, color: color}
	r.walkBlock(doc)
	return strings.TrimRight(r.buf.String(), "\n ")
}

type renderer struct {
	source    []byte
	buf       bytes.Buffer
	listDepth int
	color     bool
}

// sty returns the SGR code when color is on, otherwise "".
func (r *renderer) sty(code string) string {
	if !r.color {
		return ""
	}
	return code
}

// ---------------------------------------------------------------------------
// Block-level rendering
// ---------------------------------------------------------------------------

func (r *renderer) walkBlock(n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		r.block(c)
	}
}

func (r *renderer) block(node ast.Node) {
	switch n := node.(type) {
	case *ast.Document:
		r.walkBlock(n)

	case *ast.Heading:
		r.buf.WriteString(r.sty(sgrBold))
		r.inlines(n)
		r.buf.WriteString(r.sty(sgrReset))
		r.buf.WriteString("\n\n")

	case *ast.Paragraph:
		r.inlines(n)
		r.buf.WriteString("\n\n")

	case *ast.TextBlock:
		r.inlines(n)
		r.buf.WriteString("\n")

	case *ast.Blockquote:
		sub := &renderer{source: r.source, color: r.color}
		sub.walkBlock(n)
		for _, line := range strings.Split(strings.TrimRight(sub.buf.String(), "\n "), "\n") {
			r.buf.WriteString(r.sty(sgrDim))
			r.buf.WriteString("| ")
			r.buf.WriteString(r.sty(sgrReset))
			r.buf.WriteString(line)
			r.buf.WriteByte('\n')
		}
		r.buf.WriteByte('\n')

	case *ast.List:
		r.list(n)

	case *ast.ListItem:
		// Handled inside list(); fallback.
		r.walkBlock(n)

	case *ast.FencedCodeBlock:
		r.codeLines(n)
		r.buf.WriteByte('\n')

	case *ast.CodeBlock:
		r.codeLines(n)
		r.buf.WriteByte('\n')

	case *ast.ThematicBreak:
		r.buf.WriteString(r.sty(sgrDim))
		r.buf.WriteString(strings.Repeat("-", 40))
		r.buf.WriteString(r.sty(sgrReset))
		r.buf.WriteString("\n\n")

	case *ast.HTMLBlock:
		r.writeLines(n)
		r.buf.WriteString("\n")

	default:
		if t, ok := node.(*east.Table); ok {
			r.table(t)
			return
		}
		if node.HasChildren() {
			r.walkBlock(node)
		}
	}
}

// codeLines writes a code block's source lines indented and colored, with
// the content itself untouched.
func (r *renderer) codeLines(n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		line := strings.TrimRight(string(seg.Value(r.source)), "\n")
		r.buf.WriteString(codeIndent)
		r.buf.WriteString(r.sty(sgrCyan))
		r.buf.WriteString(line)
		r.buf.WriteString(r.sty(sgrReset))
		r.buf.WriteByte('\n')
	}
}

// writeLines writes the raw source lines of a block node.
func (r *renderer) writeLines(n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		r.buf.Write(seg.Value(r.source))
	}
}

// ---------------------------------------------------------------------------
// Inline rendering
// ---------------------------------------------------------------------------

func (r *renderer) inlines(n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		r.inline(c)
	}
}

func (r *renderer) inline(node ast.Node) {
	switch n := node.(type) {
	case *ast.Text:
		r.buf.Write(n.Text(r.source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			r.buf.WriteByte('\n')
		}

	case *ast.String:
		r.buf.Write(n.Value)

	case *ast.Emphasis:
		code := sgrItalic
		if n.Level == 2 {
			code = sgrBold
		}
		r.buf.WriteString(r.sty(code))
		r.inlines(n)
		r.buf.WriteString(r.sty(sgrReset))

	case *ast.CodeSpan:
		if r.color {
			r.buf.WriteString(sgrCyan)
			r.codeSpanText(n)
			r.buf.WriteString(sgrReset)
		} else {
			r.buf.WriteByte('`')
			r.codeSpanText(n)
			r.buf.WriteByte('`')
		}

	case *ast.Link:
		label := r.textContent(n)
		dest := string(n.Destination)
		if label == "" || label == dest {
			r.buf.WriteString(dest)
			return
		}
		r.inlines(n)
		fmt.Fprintf(&r.buf, " (%s)", dest)

	case *ast.AutoLink:
		r.buf.WriteString(string(n.URL(r.source)))

	case *ast.Image:
		alt := r.textContent(n)
		if alt == "" {
			alt = "image"
		}
		fmt.Fprintf(&r.buf, "%s (%s)", alt, string(n.Destination))

	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			r.buf.Write(seg.Value(r.source))
		}

	default:
		switch v := node.(type) {
		case *east.Strikethrough:
			r.buf.WriteString(r.sty(sgrStrike))
			r.inlines(v)
			r.buf.WriteString(r.sty(sgrReset))
		case *east.TaskCheckBox:
			if v.IsChecked {
				r.buf.WriteString("[x] ")
			} else {
				r.buf.WriteString("[ ] ")
			}
		default:
			if node.HasChildren() {
				r.inlines(node)
			}
		}
	}
}

func (r *renderer) codeSpanText(n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			r.buf.Write(t.Text(r.source))
		case *ast.String:
			r.buf.Write(t.Value)
		}
	}
}

// textContent returns the plain-text content of a node tree.
func (r *renderer) textContent(n ast.Node) string {
	var buf bytes.Buffer
	r.collectText(n, &buf)
	return buf.String()
}

func (r *renderer) collectText(node ast.Node, buf *bytes.Buffer) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Text(r.source))
		case *ast.String:
			buf.Write(t.Value)
		default:
			r.collectText(c, buf)
		}
	}
}

// ---------------------------------------------------------------------------
// List rendering
// ---------------------------------------------------------------------------

func (r *renderer) list(n *ast.List) {
	idx := 0
	if n.Start > 0 {
		idx = int(n.Start) - 1
	}
	indent := strings.Repeat("  ", r.listDepth)

	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		item, ok := child.(*ast.ListItem)
		if !ok {
			continue
		}
		if n.IsOrdered() {
			idx++
			fmt.Fprintf(&r.buf, "%s%d. ", indent, idx)
		} else {
			r.buf.WriteString(indent)
			r.buf.WriteString("- ")
		}
		r.listItemContent(item)
		r.buf.WriteByte('\n')
	}
	if r.listDepth == 0 {
		r.buf.WriteByte('\n')
	}
}

func (r *renderer) listItemContent(item *ast.ListItem) {
	first := true
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Paragraph:
			if !first {
				r.buf.WriteByte('\n')
				r.buf.WriteString(strings.Repeat("  ", r.listDepth+1))
			}
			r.inlines(n)
			first = false
		case *ast.TextBlock:
			if !first {
				r.buf.WriteByte('\n')
				r.buf.WriteString(strings.Repeat("  ", r.listDepth+1))
			}
			r.inlines(n)
			first = false
		case *ast.List:
			r.buf.WriteByte('\n')
			r.listDepth++
			r.list(n)
			r.listDepth--
		default:
			r.block(c)
			first = false
		}
	}
}

// ---------------------------------------------------------------------------
// Table rendering (GFM)
// ---------------------------------------------------------------------------

func (r *renderer) table(t *east.Table) {
	var rows [][]string
	headerIdx := -1

	for child := t.FirstChild(); child != nil; child = child.NextSibling() {
		var cells []string
		isHeader := false

		switch row := child.(type) {
		case *east.TableHeader:
			isHeader = true
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, r.textContent(cell))
			}
		case *east.TableRow:
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, r.textContent(cell))
			}
		default:
			continue
		}
		if isHeader {
			headerIdx = len(rows)
		}
		rows = append(rows, cells)
	}

	if len(rows) == 0 {
		return
	}

	// Normalise column count.
	numCols := 0
	for _, row := range rows {
		if len(row) > numCols {
			numCols = len(row)
		}
	}
	for i := range rows {
		for len(rows[i]) < numCols {
			rows[i] = append(rows[i], "")
		}
	}

	widths := make([]int, numCols)
	for _, row := range rows {
		for j, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[j] {
				widths[j] = w
			}
		}
	}

	for i, row := range rows {
		bold := i == headerIdx
		if bold {
			r.buf.WriteString(r.sty(sgrBold))
		}
		for j, cell := range row {
			r.buf.WriteString(cell)
			if j < numCols-1 {
				r.buf.WriteString(strings.Repeat(" ", widths[j]-utf8.RuneCountInString(cell)+2))
			}
		}
		if bold {
			r.buf.WriteString(r.sty(sgrReset))
		}
		r.buf.WriteByte('\n')
	}
	r.buf.WriteByte('\n')
}
