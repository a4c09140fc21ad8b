package watcher

import (
	"regexp"
	"strings"
)

// Real-world feeds are frequently malformed, so items are extracted with a
// tolerant pattern-based parse instead of a strict XML decoder. CDATA and
// the common entities are decoded; anything without both a title and a
// link is skipped.

type feedItem struct {
	Title string
	Link  string
}

var (
	itemRe  = regexp.MustCompile(`(?is)<item\b[^>]*>(.*?)</item>`)
	titleRe = regexp.MustCompile(`(?is)<title\b[^>]*>(.*?)</title>`)
	linkRe  = regexp.MustCompile(`(?is)<link\b[^>]*>(.*?)</link>`)
	cdataRe = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

func parseFeedItems(xml string) []feedItem {
	var items []feedItem
	for _, m := range itemRe.FindAllStringSubmatch(xml, -1) {
		block := m[1]
		title := decodeXMLText(firstGroup(titleRe, block))
		link := decodeXMLText(firstGroup(linkRe, block))
		if title == "" || link == "" {
			continue
		}
		items = append(items, feedItem{Title: title, Link: link})
	}
	return items
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func decodeXMLText(s string) string {
	s = cdataRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(entityReplacer.Replace(s))
}
