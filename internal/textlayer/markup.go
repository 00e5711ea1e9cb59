package textlayer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

// Markdown renders a Markdown file to its plain block text.
type Markdown struct{}

func (Markdown) Extract(_ context.Context, path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var paras []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		paras = append(paras, blockText(n, src))
	}
	return joinParagraphs(paras), nil
}

// blockText gets the text content of a goldmark AST node. Leaf blocks such
// as code fences carry their text in Lines; everything else in children.
func blockText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && !n.HasChildren() {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		if c.Type() == ast.TypeBlock {
			// List items and quotes nest their own blocks.
			buf.WriteByte('\n')
		}
		buf.WriteString(blockText(c, src))
	}
	return strings.TrimSpace(buf.String())
}

// HTML collects the visible block text of an HTML page.
type HTML struct{}

func (HTML) Extract(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var paras []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "head":
				return
			case "h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "td", "th", "blockquote", "pre":
				paras = append(paras, nodeText(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return joinParagraphs(paras), nil
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}
