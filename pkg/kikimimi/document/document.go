// Package document adapts parsed XML trees to the node interface the query engine walks.
package document

import (
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/murakmii/kikimimi/pkg/kikimimi/xpath"
	"golang.org/x/xerrors"
)

var ErrNoRootElement = xerrors.New("document has no root element")

const textNodeName = "#text"

type Node struct {
	raw *xmlquery.Node
}

// 文書を解析し、文書要素を返す。
// bodyは取得時にUTF-8へ変換済みのため、XML宣言の文字コードは無視する
func Parse(body string) (*Node, error) {
	doc, err := xmlquery.ParseWithOptions(strings.NewReader(body), xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{Strict: true, CharsetReader: passThrough},
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to parse document: %w", err)
	}

	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return &Node{raw: n}, nil
		}
	}

	return nil, ErrNoRootElement
}

func passThrough(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}

// 要素名。名前空間接頭辞があれば"prefix:local"の形式
func (n *Node) Name() string {
	if n.IsText() {
		return textNodeName
	}

	if len(n.raw.Prefix) > 0 {
		return n.raw.Prefix + ":" + n.raw.Data
	}

	return n.raw.Data
}

func (n *Node) Attr(name string) (string, bool) {
	for _, attr := range n.raw.Attr {
		if attr.Name.Local == name || attr.Name.Space+":"+attr.Name.Local == name {
			return attr.Value, true
		}
	}

	return "", false
}

// 要素とテキストのみを子として返す。コメントや宣言は含まない
func (n *Node) Children() []xpath.Node {
	children := make([]xpath.Node, 0, 4)

	for c := n.raw.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode, xmlquery.TextNode, xmlquery.CharDataNode:
			children = append(children, &Node{raw: c})
		}
	}

	return children
}

func (n *Node) IsText() bool {
	return n.raw.Type == xmlquery.TextNode || n.raw.Type == xmlquery.CharDataNode
}

func (n *Node) Text() string {
	if !n.IsText() {
		return ""
	}

	return n.raw.Data
}
