package filter

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Weights holds the tunable thresholds of both policies
type Weights struct {
	MinPostLength        int `yaml:"min_post_length"`
	MinCommentLength     int `yaml:"min_comment_length"`
	BroadPostLimit       int `yaml:"broad_post_limit"`
	BroadCommentLimit    int `yaml:"broad_comment_limit"`
	BroadKeywordBonus    int `yaml:"broad_keyword_bonus"`
	FocusedPostLimit     int `yaml:"focused_post_limit"`
	FocusedCommentLimit  int `yaml:"focused_comment_limit"`
	DomainTermWeight     int `yaml:"domain_term_weight"`
	TrendingTermWeight   int `yaml:"trending_term_weight"`
	TrendingPhraseBonus  int `yaml:"trending_phrase_bonus"`
	KeywordMatchBonus    int `yaml:"keyword_match_bonus"`
	PriorityChannelBonus int `yaml:"priority_channel_bonus"`
	MinCategoryMatches   int `yaml:"min_category_matches"`
}

// Lexicon is the curated vocabulary behind relevance scoring
type Lexicon struct {
	DomainTerms      []string `yaml:"domain_terms"`
	TrendingTopics   []string `yaml:"trending_topics"`
	PriorityChannels []string `yaml:"priority_channels"`
	DefaultChannels  []string `yaml:"default_channels"`
	FocusedChannels  []string `yaml:"focused_channels"`
	Weights          Weights  `yaml:"weights"`
}

// DefaultLexicon returns the built-in vocabulary for energy and climate discussions
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		DomainTerms: []string{
			"energy", "renewable", "solar", "wind", "battery", "grid", "emissions", "carbon",
			"climate", "electricity", "power", "efficiency", "sustainability", "policy", "storage",
			"nuclear", "hydrogen", "utility", "kwh", "inverter", "panels", "turbine", "fossil",
		},
		TrendingTopics: []string{
			"climate change", "renewable energy", "electric vehicles", "battery storage",
			"carbon capture", "net zero", "heat pumps", "green hydrogen", "grid modernization",
			"energy transition",
		},
		PriorityChannels: []string{"energy", "renewableenergy", "climate", "solar", "science"},
		DefaultChannels:  []string{"all", "news", "technology", "worldnews"},
		FocusedChannels:  []string{"energy", "renewableenergy", "climate", "solar", "science", "environment"},
		Weights: Weights{
			MinPostLength:        20,
			MinCommentLength:     15,
			BroadPostLimit:       5,
			BroadCommentLimit:    10,
			BroadKeywordBonus:    10,
			FocusedPostLimit:     8,
			FocusedCommentLimit:  15,
			DomainTermWeight:     1,
			TrendingTermWeight:   2,
			TrendingPhraseBonus:  5,
			KeywordMatchBonus:    3,
			PriorityChannelBonus: 1000,
			MinCategoryMatches:   2,
		},
	}
}

// LoadLexicon reads a YAML lexicon. Fields absent from the file keep their defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	lex := DefaultLexicon()
	if path == "" {
		return lex, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon %s: %w", path, err)
	}

	lex.normalize()
	return lex, nil
}

func (l *Lexicon) normalize() {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	l.DomainTerms = lower(l.DomainTerms)
	l.TrendingTopics = lower(l.TrendingTopics)
	l.PriorityChannels = lower(l.PriorityChannels)
}

// Channels returns the subreddits searched when a request names none
func (l *Lexicon) Channels(focused bool) []string {
	if focused && len(l.FocusedChannels) > 0 {
		return l.FocusedChannels
	}
	return l.DefaultChannels
}

// TopicContext lists the words an item is compared against for fallback relevancy
func (l *Lexicon) TopicContext() []string {
	return l.TrendingTopics
}

func (l *Lexicon) isPriorityChannel(name string) bool {
	name = strings.ToLower(name)
	for _, c := range l.PriorityChannels {
		if c == name {
			return true
		}
	}
	return false
}

// termWeights maps every scored word to the highest weight of the categories it appears in
func (l *Lexicon) termWeights() map[string]int {
	weights := make(map[string]int, len(l.DomainTerms))
	for _, term := range l.DomainTerms {
		weights[term] = l.Weights.DomainTermWeight
	}
	for _, term := range l.trendingTerms() {
		if weights[term] < l.Weights.TrendingTermWeight {
			weights[term] = l.Weights.TrendingTermWeight
		}
	}
	return weights
}

// trendingTerms splits trending phrases into their significant words
func (l *Lexicon) trendingTerms() []string {
	seen := make(map[string]bool)
	var terms []string
	for _, phrase := range l.TrendingTopics {
		for _, w := range strings.Fields(phrase) {
			if len(w) > 3 && !seen[w] {
				seen[w] = true
				terms = append(terms, w)
			}
		}
	}
	return terms
}
