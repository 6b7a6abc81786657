package robots

import (
	"bufio"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// 1つのrobots.txtのうち、自身に適用されるルールを表す型
type Txt struct {
	Allowed    []string
	Disallowed []string
	CrawlDelay time.Duration
}

// robots.txt中の1エントリーを表す型
type entry struct {
	field string
	value string
}

// robots.txtを先頭から読み、自身に適用されるルールを集めたTxtを返す。
//
// "User-agent: *"か自身のUser-agentのグループに入るとルールの収集を始め、別のUser-agentが現れたら止める。
// 収集中に自身のUser-agentが現れた場合は、それまでに集めたルールを捨てて収集し直す。
// ワイルドカードを含むパスと空のパスは無視する。Crawl-delayは最初のもののみ有効
func ParseRobotsTxt(reader io.Reader, ua string) (*Txt, error) {
	txt := &Txt{}
	storing := false
	delaySet := false

	r := bufio.NewScanner(reader)
	for r.Scan() {
		entry, err := parseEntry(r.Text())
		if err != nil || entry.isComment() {
			continue
		}

		isUA := entry.field == "user-agent"
		forMe := isUA && strings.EqualFold(entry.value, ua)

		if storing {
			if forMe {
				txt.reset()
				delaySet = false
				continue
			}

			if isUA {
				storing = false
				continue
			}

			switch entry.field {
			case "allow":
				if path, ok := parsePath(entry.value); ok {
					txt.Allowed = append(txt.Allowed, path)
				}

			case "disallow":
				if path, ok := parsePath(entry.value); ok {
					txt.Disallowed = append(txt.Disallowed, path)
				}

			case "crawl-delay":
				if delaySet {
					continue
				}

				if d, err := strconv.ParseFloat(entry.value, 64); err == nil && d >= 0 {
					txt.CrawlDelay = time.Duration(d * float64(time.Second))
					delaySet = true
				}
			}
		}

		if forMe || (isUA && entry.value == "*") {
			storing = true
		}
	}

	if err := r.Err(); err != nil {
		return nil, xerrors.Errorf("can't read robots.txt: %w", err)
	}

	return txt, nil
}

// パスとクエリの組がクロール可能かどうかを返す。
// Allowのいずれかに前方一致すれば許可、Disallowのいずれかに前方一致すれば不許可、どちらでもなければ許可
func Allows(allowed, disallowed []string, requestURI string) bool {
	for _, prefix := range allowed {
		if strings.HasPrefix(requestURI, prefix) {
			return true
		}
	}

	for _, prefix := range disallowed {
		if strings.HasPrefix(requestURI, prefix) {
			return false
		}
	}

	return true
}

func (txt *Txt) Allows(requestURI string) bool {
	return Allows(txt.Allowed, txt.Disallowed, requestURI)
}

func (txt *Txt) reset() {
	txt.Allowed = nil
	txt.Disallowed = nil
	txt.CrawlDelay = 0
}

func parseEntry(s string) (*entry, error) {
	if len(s) > 2000 {
		return nil, xerrors.New("entry is too long")
	}

	s = strings.Trim(s, " \t\r")
	if strings.HasPrefix(s, "#") {
		return &entry{field: "#", value: ""}, nil
	}

	// 行末のコメント
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}

	tokens := strings.SplitN(s, ":", 2)
	if len(tokens) != 2 {
		return nil, xerrors.New("invalid entry")
	}

	return &entry{field: strings.ToLower(strings.Trim(tokens[0], " \t")), value: strings.Trim(tokens[1], " \t")}, nil
}

func (e *entry) isComment() bool {
	return e.field == "#"
}

func parsePath(value string) (string, bool) {
	if strings.ContainsAny(value, "*?$") {
		return "", false
	}

	path, err := url.QueryUnescape(value)
	if err != nil {
		return "", false
	}

	path = strings.TrimSpace(path)
	return path, len(path) > 0
}
