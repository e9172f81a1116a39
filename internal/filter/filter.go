// Package filter selects which fetched posts and comments are worth enriching.
//
// Two policies exist: Broad ranks by popularity with a keyword bonus for general
// audiences, Focused scores items against a curated domain lexicon for expert
// audiences. Both are pure functions of their input and deterministic.
package filter

import (
	"sort"
	"strings"
	"unicode"

	"github.com/azure/discussion-pulse/internal/models"
)

// Policy selects the items of a cycle that get enriched and stored
type Policy interface {
	Name() string
	SelectPosts(keyword string, posts []models.Post) []models.Post
	SelectComments(keyword string, comments []models.Comment) []models.Comment
}

// ForRole returns the policy used for a caller role
func ForRole(role string, lex *Lexicon) Policy {
	if lex == nil {
		lex = DefaultLexicon()
	}
	if models.IsFocusedRole(role) {
		return &Focused{lex: lex}
	}
	return &Broad{lex: lex}
}

type candidate struct {
	index   int
	id      string
	text    string
	channel string
	score   int
	rank    int
}

func postCandidates(posts []models.Post) []candidate {
	out := make([]candidate, len(posts))
	for i, p := range posts {
		out[i] = candidate{index: i, id: p.ID, text: p.Text(), channel: p.Subreddit, score: p.Score}
	}
	return out
}

func commentCandidates(comments []models.Comment) []candidate {
	out := make([]candidate, len(comments))
	for i, c := range comments {
		out[i] = candidate{index: i, id: c.ID, text: c.Body, channel: c.Subreddit, score: c.Score}
	}
	return out
}

// rankAndCap orders by rank, then popularity, then id, and keeps the first n
func rankAndCap(cands []candidate, n int) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank > cands[j].rank
		}
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

func pick[T any](items []T, cands []candidate) []T {
	out := make([]T, 0, len(cands))
	for _, c := range cands {
		out = append(out, items[c.index])
	}
	return out
}

// Broad keeps items long enough to say something and prefers popular ones mentioning the keyword
type Broad struct {
	lex *Lexicon
}

func (b *Broad) Name() string { return "broad" }

func (b *Broad) SelectPosts(keyword string, posts []models.Post) []models.Post {
	w := b.lex.Weights
	return pick(posts, b.rank(keyword, postCandidates(posts), w.MinPostLength, w.BroadPostLimit))
}

func (b *Broad) SelectComments(keyword string, comments []models.Comment) []models.Comment {
	w := b.lex.Weights
	return pick(comments, b.rank(keyword, commentCandidates(comments), w.MinCommentLength, w.BroadCommentLimit))
}

func (b *Broad) rank(keyword string, cands []candidate, minLen, limit int) []candidate {
	kw := strings.ToLower(keyword)
	kept := cands[:0:0]
	for _, c := range cands {
		if len([]rune(strings.TrimSpace(c.text))) < minLen {
			continue
		}
		c.rank = c.score
		if kw != "" && strings.Contains(strings.ToLower(c.text), kw) {
			c.rank += b.lex.Weights.BroadKeywordBonus
		}
		kept = append(kept, c)
	}
	return rankAndCap(kept, limit)
}

// Relevance is the Focused policy's verdict on one piece of text
type Relevance struct {
	Score          int
	Matches        int
	TrendingPhrase bool
	KeywordMatch   bool
}

// Focused scores items against the domain lexicon and keeps only relevant ones
type Focused struct {
	lex *Lexicon
}

func (f *Focused) Name() string { return "focused" }

func (f *Focused) SelectPosts(keyword string, posts []models.Post) []models.Post {
	return pick(posts, f.rank(keyword, postCandidates(posts), f.lex.Weights.FocusedPostLimit))
}

func (f *Focused) SelectComments(keyword string, comments []models.Comment) []models.Comment {
	return pick(comments, f.rank(keyword, commentCandidates(comments), f.lex.Weights.FocusedCommentLimit))
}

// Score computes the weighted category match for text. The priority channel bonus is a sort
// key only and is not part of the score.
func (f *Focused) Score(text, keyword string) Relevance {
	w := f.lex.Weights
	lower := strings.ToLower(text)
	tokens := tokenSet(lower)

	var r Relevance
	for term, weight := range f.lex.termWeights() {
		if tokens[term] {
			r.Score += weight
			r.Matches++
		}
	}
	for _, phrase := range f.lex.TrendingTopics {
		if strings.Contains(lower, phrase) {
			r.TrendingPhrase = true
			r.Score += w.TrendingPhraseBonus
			break
		}
	}
	if kw := strings.ToLower(strings.TrimSpace(keyword)); kw != "" && strings.Contains(lower, kw) {
		r.KeywordMatch = true
		r.Score += w.KeywordMatchBonus
	}
	return r
}

func (f *Focused) rank(keyword string, cands []candidate, limit int) []candidate {
	kept := cands[:0:0]
	for _, c := range cands {
		rel := f.Score(c.text, keyword)
		if rel.Matches < f.lex.Weights.MinCategoryMatches && !rel.TrendingPhrase {
			continue
		}
		c.rank = rel.Score
		if f.lex.isPriorityChannel(c.channel) {
			c.rank += f.lex.Weights.PriorityChannelBonus
		}
		kept = append(kept, c)
	}
	return rankAndCap(kept, limit)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(text) {
		set[t] = true
	}
	return set
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
