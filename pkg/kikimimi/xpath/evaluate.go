package xpath

import "strings"

// クエリが評価できる木構造のノード
type Node interface {
	// 要素名。テキストノードの場合は意味を持たない
	Name() string
	Attr(name string) (string, bool)
	Children() []Node
	IsText() bool
	// テキストノードの内容
	Text() string
}

// rootを文書要素として、クエリにマッチするノードが存在するかどうかを返す
func (q *Query) Matches(root Node) bool {
	if root == nil {
		return false
	}

	return matchPath(q.steps, []Node{root})
}

// クエリを解析して評価する
func Evaluate(query string, root Node) (bool, error) {
	q, err := Parse(query)
	if err != nil {
		return false, err
	}

	return q.Matches(root), nil
}

// 各ステップでマッチしたノードの子を次のステップの候補として進める。
// 最後のステップでマッチするノードが1つでもあれば成功
func matchPath(steps []*Step, candidates []Node) bool {
	if len(steps) == 0 {
		return false
	}

	for i, step := range steps {
		matched := step.match(candidates)
		if len(matched) == 0 {
			return false
		}

		if i == len(steps)-1 {
			return true
		}

		candidates = childrenOf(matched)
	}

	return false
}

func (s *Step) match(candidates []Node) []Node {
	matched := make([]Node, 0, len(candidates))

	for _, node := range candidates {
		if node.IsText() || node.Name() != s.Name {
			continue
		}

		if s.passes(node) {
			matched = append(matched, node)
		}
	}

	return matched
}

func (s *Step) passes(node Node) bool {
	for _, f := range s.Filters {
		if !f.test(node) {
			return false
		}
	}

	return true
}

func childrenOf(nodes []Node) []Node {
	children := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		children = append(children, node.Children()...)
	}

	return children
}

func (f *TextEquals) test(node Node) bool {
	for _, child := range node.Children() {
		if child.IsText() && child.Text() == f.Value {
			return true
		}
	}

	return false
}

func (f *TextContains) test(node Node) bool {
	for _, child := range node.Children() {
		if child.IsText() && strings.Contains(child.Text(), f.Value) {
			return true
		}
	}

	return false
}

func (f *AttrEquals) test(node Node) bool {
	v, ok := node.Attr(f.Name)
	return ok && v == f.Value
}

func (f *Nested) test(node Node) bool {
	return matchPath(f.Steps, node.Children())
}
