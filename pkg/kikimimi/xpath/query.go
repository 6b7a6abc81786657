// Package xpath implements a restricted path query language over document trees.
//
// A query is a sequence of steps separated by '/', starting from the document element:
//
//	/rss/channel/item[title/text()="Breaking"][@lang="en"]
//
// Each step is a node name optionally followed by filters. A filter is one of
// text()="literal", contains(text(),"literal"), @attr="literal", or a nested
// relative path (which may carry filters of its own).
package xpath

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

var ErrInvalidQuery = xerrors.New("invalid query")

// 構文解析済みのクエリ
type Query struct {
	raw   string
	steps []*Step
}

// クエリ中の1ステップ。ノード名と、そのノードが満たすべきフィルタからなる
type Step struct {
	Name    string
	Filters []Filter
}

// ステップに付くフィルタ。TextEquals, TextContains, AttrEquals, Nestedのいずれか
type Filter interface {
	fmt.Stringer

	test(node Node) bool
}

// text()="literal"
type TextEquals struct {
	Value string
}

// contains(text(),"literal")
type TextContains struct {
	Value string
}

// @name="literal"
type AttrEquals struct {
	Name  string
	Value string
}

// [b/c[...]] のような入れ子のパス
type Nested struct {
	Steps []*Step
}

// クエリが文法に従っているかどうかを返す
func Validate(query string) bool {
	_, err := Parse(query)
	return err == nil
}

// クエリを構文解析する
func Parse(query string) (*Query, error) {
	if !strings.HasPrefix(query, "/") {
		return nil, xerrors.Errorf("%w: query must start with '/'", ErrInvalidQuery)
	}

	if len(strings.Trim(query, "/")) == 0 {
		return nil, xerrors.Errorf("%w: query has no step", ErrInvalidQuery)
	}

	p := &parser{src: query, pos: 1}
	steps, err := p.parsePath()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected '%c'", p.peek())
	}

	return &Query{raw: query, steps: steps}, nil
}

func MustParse(query string) *Query {
	q, err := Parse(query)
	if err != nil {
		panic(err)
	}

	return q
}

func (q *Query) Steps() []*Step {
	return q.steps
}

// 解析前のクエリを返す
func (q *Query) Raw() string {
	return q.raw
}

// 正規化したクエリの文字列表現を返す
func (q *Query) String() string {
	return "/" + joinSteps(q.steps)
}

func (s *Step) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, f := range s.Filters {
		b.WriteByte('[')
		b.WriteString(f.String())
		b.WriteByte(']')
	}

	return b.String()
}

func (f *TextEquals) String() string {
	return "text()=" + quote(f.Value)
}

func (f *TextContains) String() string {
	return "contains(text()," + quote(f.Value) + ")"
}

func (f *AttrEquals) String() string {
	return "@" + f.Name + "=" + quote(f.Value)
}

func (f *Nested) String() string {
	return joinSteps(f.Steps)
}

func joinSteps(steps []*Step) string {
	parts := make([]string, len(steps))
	for i, step := range steps {
		parts[i] = step.String()
	}

	return strings.Join(parts, "/")
}

func quote(s string) string {
	return `"` + strings.Replace(s, `"`, `\"`, -1) + `"`
}
