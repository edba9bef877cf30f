package tool

import (
	"slices"
	"strings"
	"unicode/utf8"

	recordx "github.com/tanpawarit/chative-crm-agent/agent/record"
)

const (
	phraseScore  = 10
	keywordScore = 1
	minKeyword   = 4
)

// RankArticles scores every article against query and returns the best limit
// with a positive score. Equal scores keep store order. This is a linear scan
// over the whole knowledge base.
func RankArticles(articles []recordx.KnowledgeArticle, query string, limit int) []recordx.KnowledgeArticle {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var keywords []string
	for _, tok := range strings.Fields(q) {
		if utf8.RuneCountInString(tok) >= minKeyword {
			keywords = append(keywords, tok)
		}
	}

	type scored struct {
		article recordx.KnowledgeArticle
		score   int
	}
	hits := make([]scored, 0, len(articles))
	for _, a := range articles {
		text := strings.ToLower(a.Title + " " + a.Content)
		score := 0
		if strings.Contains(text, q) {
			score += phraseScore
		}
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				score += keywordScore
			}
		}
		if score > 0 {
			hits = append(hits, scored{article: a, score: score})
		}
	}

	slices.SortStableFunc(hits, func(a, b scored) int { return b.score - a.score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]recordx.KnowledgeArticle, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.article)
	}
	return out
}
