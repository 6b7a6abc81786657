package www

import (
	"testing"

	"golang.org/x/xerrors"
)

func mustSanitize(s string) *SanitizedURL {
	u, err := SanitizedURLFromString(s)
	if err != nil {
		panic(err)
	}
	return u
}

func TestResolveLink(t *testing.T) {
	tests := []struct {
		name   string
		source string
		target string
		want   string
	}{
		{name: "絶対URL", source: "http://a.com/x/", target: "https://b.com/y", want: "https://b.com/y"},
		{name: "www.から始まる", source: "http://a.com/", target: "www.b.com/y", want: "http://www.b.com/y"},
		{name: "相対パス(ディレクトリ)", source: "http://a.com/docs/", target: "page.html", want: "http://a.com/docs/page.html"},
		{name: "相対パス(HTMLファイル)", source: "http://a.com/docs/index.html", target: "next.html", want: "http://a.com/docs/next.html"},
		{name: "相対パス(ルート)", source: "http://a.com/", target: "about", want: "http://a.com/about"},
		{name: "/から始まるパス", source: "http://a.com/index.htm", target: "/about", want: "http://a.com/about"},
		{name: "/から始まるパスはディレクトリを基準にする", source: "http://a.com/docs/", target: "/about", want: "http://a.com/docs/about"},
		{name: "スキーム相対", source: "https://a.com/", target: "//cdn.com/x.js", want: "https://cdn.com/x.js"},
		{name: "ポート付き", source: "http://a.com:8080/", target: "b", want: "http://a.com:8080/b"},
		{name: "フラグメントは取り除く", source: "http://a.com/", target: "b#top", want: "http://a.com/b"},
		{name: "ページ内リンク", source: "http://a.com/", target: "#top", want: ""},
		{name: "空", source: "http://a.com/", target: "   ", want: ""},
		{name: "その他のスキームはそのまま", source: "http://a.com/", target: "mailto:x@a.com", want: "mailto:x@a.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveLink(mustSanitize(tt.source), tt.target); got != tt.want {
				t.Errorf("ResolveLink(%s, %s) = %s, want = %s", tt.source, tt.target, got, tt.want)
			}
		})
	}
}

func TestExtractLinks(t *testing.T) {
	body := `<html><head><LINK HREF="/style.css" rel="stylesheet"></head>
<body>
  <a href="http://b.com/">b</a>
  <A HREF="next.html">next</A>
  <a href="">blank</a>
  <a name="anchor">no href</a>
  <a href="javascript:void(0)">js</a>
</body></html>`

	links, err := ExtractLinks(body, mustSanitize("http://a.com/"))
	if err != nil {
		t.Fatalf("ExtractLinks() returns error: %v", err)
	}

	want := []string{"http://a.com/style.css", "http://b.com/", "http://a.com/next.html", "javascript:void(0)"}
	if len(links) != len(want) {
		t.Fatalf("ExtractLinks() = %v, want = %v", links, want)
	}

	for i := range want {
		if links[i] != want[i] {
			t.Errorf("ExtractLinks()[%d] = %s, want = %s", i, links[i], want[i])
		}
	}
}

func TestNormalizeRedirect(t *testing.T) {
	source := mustSanitize("https://a.com/old/page")

	tests := []struct {
		location string
		want     string
		err      bool
	}{
		{location: "https://b.com/new", want: "https://b.com/new"},
		{location: "HTTP://b.com/new", want: "HTTP://b.com/new"},
		{location: "/new/page", want: "https://a.com/new/page"},
		{location: "www.b.com/x", want: "http://www.b.com/x"},
		{location: "ftp://b.com/x", err: true},
		{location: "new/page", err: true},
	}

	for _, tt := range tests {
		got, err := NormalizeRedirect(source, tt.location)
		if tt.err {
			if !xerrors.Is(err, ErrUnsupportedProtocol) {
				t.Errorf("NormalizeRedirect(%s) returns %v, want = ErrUnsupportedProtocol", tt.location, err)
			}
			continue
		}

		if err != nil || got != tt.want {
			t.Errorf("NormalizeRedirect(%s) = (%s, %v), want = %s", tt.location, got, err, tt.want)
		}
	}
}
