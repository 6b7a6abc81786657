package xpath

import (
	"testing"

	"golang.org/x/xerrors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{name: "単純なパス", query: "/a/b/c", want: true},
		{name: "1ステップのみ", query: "/rss", want: true},
		{name: "先頭が区切り文字でない", query: "a/b", want: false},
		{name: "空文字列", query: "", want: false},
		{name: "区切り文字のみ", query: "/", want: false},
		{name: "区切り文字のみ(複数)", query: "///", want: false},
		{name: "空のステップを含む", query: "/a//b", want: false},
		{name: "末尾が区切り文字", query: "/a/b/", want: false},
		{name: "名前空間付きの名前", query: "/dc:creator", want: true},
		{name: "記号を含む名前", query: "/my-node.v2/_x", want: true},
		{name: "数字から始まる名前", query: "/1a", want: false},
		{name: "xmlから始まる名前", query: "/xmlns", want: false},
		{name: "XMLから始まる名前(大文字)", query: "/a/XmLdata", want: false},
		{name: "属性フィルタ", query: `/a[@id="5"]`, want: true},
		{name: "テキストフィルタ", query: `/a[text()="hello"]`, want: true},
		{name: "部分一致フィルタ", query: `/a[contains(text(),"ell")]`, want: true},
		{name: "入れ子のパス", query: "/a[b/c]", want: true},
		{name: "複数のフィルタ", query: `/a[@id="5"][b][text()="x"]`, want: true},
		{name: "深い入れ子", query: `/a[b[c[@k="v"]/d]]/e`, want: true},
		{name: "空白を含む", query: `/a [ @id = "5" ] / b`, want: true},
		{name: "リテラル内の括弧", query: `/a[text()="[x]/y"]`, want: true},
		{name: "エスケープされた引用符", query: `/a[text()="say \"hi\""]`, want: true},
		{name: "開き括弧が多い", query: "/a[b[c]", want: false},
		{name: "閉じ括弧が多い", query: "/a[b]]", want: false},
		{name: "閉じ括弧のみ", query: "/a]", want: false},
		{name: "空のフィルタ", query: "/a[]", want: false},
		{name: "入れ子のパスが区切り文字から始まる", query: "/a[/b]", want: false},
		{name: "閉じられていないリテラル", query: `/a[text()="hello]`, want: false},
		{name: "引用符のないリテラル", query: "/a[@id=5]", want: false},
		{name: "属性名がない", query: `/a[@="5"]`, want: false},
		{name: "text()以外の関数", query: `/a[contains(name(),"x")]`, want: false},
		{name: "containsの引数が足りない", query: `/a[contains(text())]`, want: false},
		{name: "textという名前の要素", query: "/a[text]", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Validate(tt.query); got != tt.want {
				t.Errorf("Validate(%q) = %v, want = %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "単純なパス", query: "/a/b/c", want: "/a/b/c"},
		{name: "空白は取り除かれる", query: `/a [ @id = "5" ] / b`, want: `/a[@id="5"]/b`},
		{name: "フィルタの順序は保たれる", query: `/a[text()="x"][@k="v"]`, want: `/a[text()="x"][@k="v"]`},
		{name: "部分一致", query: `/a[ contains( text() , "ell" ) ]`, want: `/a[contains(text(),"ell")]`},
		{name: "入れ子", query: `/rss/channel/item[title/text()="Breaking"]`, want: `/rss/channel/item[title/text()="Breaking"]`},
		{name: "エスケープ", query: `/a[text()="say \"hi\""]`, want: `/a[text()="say \"hi\""]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.query)
			if err != nil {
				t.Fatalf("Parse(%q) returns error: %v", tt.query, err)
			}

			if q.String() != tt.want {
				t.Errorf("Parse(%q).String() = %s, want = %s", tt.query, q.String(), tt.want)
			}

			if q.Raw() != tt.query {
				t.Errorf("Raw() = %s, want = %s", q.Raw(), tt.query)
			}
		})
	}

	t.Run("ステップとフィルタに分解される", func(t *testing.T) {
		q := MustParse(`/a/b[@id="5"][c/d[text()="x"]]`)

		steps := q.Steps()
		if len(steps) != 2 || steps[0].Name != "a" || steps[1].Name != "b" {
			t.Fatalf("unexpected steps: %v", q)
		}

		if len(steps[0].Filters) != 0 || len(steps[1].Filters) != 2 {
			t.Fatalf("unexpected filters: %v", q)
		}

		attr, ok := steps[1].Filters[0].(*AttrEquals)
		if !ok || attr.Name != "id" || attr.Value != "5" {
			t.Errorf("unexpected attribute filter: %v", steps[1].Filters[0])
		}

		nested, ok := steps[1].Filters[1].(*Nested)
		if !ok || len(nested.Steps) != 2 || nested.Steps[0].Name != "c" || nested.Steps[1].Name != "d" {
			t.Fatalf("unexpected nested filter: %v", steps[1].Filters[1])
		}

		text, ok := nested.Steps[1].Filters[0].(*TextEquals)
		if !ok || text.Value != "x" {
			t.Errorf("unexpected text filter: %v", nested.Steps[1].Filters[0])
		}
	})

	t.Run("不正なクエリはErrInvalidQueryを返す", func(t *testing.T) {
		_, err := Parse("/a[b")
		if !xerrors.Is(err, ErrInvalidQuery) {
			t.Errorf("Parse() returns %v, want = ErrInvalidQuery", err)
		}
	})
}
