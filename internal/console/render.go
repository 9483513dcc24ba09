// ABOUTME: Plain-text rendering of message bodies and list rows for the terminal
// ABOUTME: Markdown from macros is flattened with goldmark, sender colors via fatih/color

package console

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/2389/coven-desk/internal/desk"
)

var (
	selfColor        = color.New(color.FgCyan)
	counterpartColor = color.New(color.FgGreen)
	systemColor      = color.New(color.FgYellow, color.Italic)
	dimColor         = color.New(color.FgHiBlack)
)

// PlainText flattens a markdown body into terminal text. Emphasis is
// dropped, links keep their destination, lists keep a dash prefix.
func PlainText(body string) string {
	src := []byte(body)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.HardLineBreak() {
					b.WriteByte('\n')
				} else if node.SoftLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
				return ast.WalkSkipChildren, nil
			}
		case *ast.Link:
			if !entering && len(node.Destination) > 0 {
				b.WriteString(" (" + string(node.Destination) + ")")
			}
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			}
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
			if !entering {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

// FormatMessage renders one message line.
func FormatMessage(m desk.Message) string {
	var who string
	var c *color.Color
	switch m.SenderCategory {
	case desk.SenderSelf:
		who, c = "you", selfColor
	case desk.SenderSystem:
		who, c = "system", systemColor
	default:
		who, c = m.SenderRole, counterpartColor
		if who == "" {
			who = "customer"
		}
	}
	stamp := ""
	if m.DisplayTime != "" {
		stamp = dimColor.Sprint("["+m.DisplayTime+"]") + " "
	}
	return stamp + c.Sprint(who+":") + " " + PlainText(m.Body)
}

// FormatSession renders one numbered list row.
func FormatSession(i int, s desk.Session) string {
	name := s.CustomerName
	if name == "" {
		name = s.SessionID
	}
	row := fmt.Sprintf("%2d. %s  %s", i+1, name, dimColor.Sprint("["+s.Department+"]"))
	if s.AssignedAgentID != "" {
		row += dimColor.Sprint(" @" + s.AssignedAgentID)
	}
	return row
}
