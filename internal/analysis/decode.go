package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/azure/discussion-pulse/internal/models"
)

var errNoObject = errors.New("response contains no JSON object")

// Decode turns a raw AI response into a complete Analysis. Missing or malformed fields take the
// defaults applied by models.Analysis.Normalize; only an unreadable document is an error.
func Decode(raw string) (models.Analysis, error) {
	body, err := extractObject(raw)
	if err != nil {
		return models.Analysis{}, err
	}

	var r rawAnalysis
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return models.Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}

	a := r.toAnalysis()
	a.Method = models.MethodAI
	a.Normalize()
	return a, nil
}

// extractObject strips markdown code fences and any prose around the outermost JSON object
func extractObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errNoObject
	}
	return s[start : end+1], nil
}

type rawAnalysis struct {
	Sentiment   *rawSentiment   `json:"sentiment"`
	Relevancy   *rawRelevancy   `json:"relevancy"`
	Quality     *rawQuality     `json:"quality"`
	Engagement  *rawEngagement  `json:"engagement"`
	Insights    *rawInsights    `json:"insights"`
	Contributor *rawContributor `json:"contributor"`
}

type rawSentiment struct {
	Classification *string `json:"classification"`
	Confidence     number  `json:"confidence"`
	Positive       number  `json:"positive"`
	Negative       number  `json:"negative"`
	Neutral        number  `json:"neutral"`
}

// UnmarshalJSON also accepts a bare classification string
func (s *rawSentiment) UnmarshalJSON(b []byte) error {
	var label string
	if err := json.Unmarshal(b, &label); err == nil {
		s.Classification = &label
		return nil
	}
	type plain rawSentiment
	return json.Unmarshal(b, (*plain)(s))
}

type rawRelevancy struct {
	Score           number     `json:"score"`
	Reasoning       *string    `json:"reasoning"`
	MatchedKeywords stringList `json:"matchedKeywords"`
}

type rawQuality struct {
	Clarity         number `json:"clarity"`
	Coherence       number `json:"coherence"`
	Informativeness number `json:"informativeness"`
	Overall         number `json:"overall"`
}

type rawEngagement struct {
	Score               number     `json:"score"`
	Factors             stringList `json:"factors"`
	DiscussionPotential number     `json:"discussionPotential"`
}

type rawInsights struct {
	KeyPoints             stringList `json:"keyPoints"`
	Stance                *string    `json:"stance"`
	Tone                  *string    `json:"tone"`
	CredibilityIndicators stringList `json:"credibilityIndicators"`
}

type rawContributor struct {
	Score            number  `json:"score"`
	Expertise        *string `json:"expertise"`
	ContributionType *string `json:"contributionType"`
}

func (r rawAnalysis) toAnalysis() models.Analysis {
	var a models.Analysis

	if s := r.Sentiment; s != nil {
		a.Sentiment = models.SentimentFacet{
			Classification: enum(s.Classification),
			Confidence:     s.Confidence.value(),
			Positive:       s.Positive.value(),
			Negative:       s.Negative.value(),
			Neutral:        s.Neutral.value(),
		}
	}
	if rel := r.Relevancy; rel != nil {
		a.Relevancy = models.RelevancyFacet{
			Score:           rel.Score.value(),
			Reasoning:       str(rel.Reasoning),
			MatchedKeywords: rel.MatchedKeywords,
		}
	}
	if q := r.Quality; q != nil {
		a.Quality = models.QualityFacet{
			Clarity:         q.Clarity.value(),
			Coherence:       q.Coherence.value(),
			Informativeness: q.Informativeness.value(),
			Overall:         q.Overall.value(),
		}
		if !q.Overall.set() {
			a.Quality.Overall = (a.Quality.Clarity + a.Quality.Coherence + a.Quality.Informativeness) / 3
		}
	}
	if e := r.Engagement; e != nil {
		a.Engagement = models.EngagementFacet{
			Score:               e.Score.value(),
			Factors:             e.Factors,
			DiscussionPotential: e.DiscussionPotential.value(),
		}
	}
	if in := r.Insights; in != nil {
		a.Insights = models.InsightsFacet{
			KeyPoints:             in.KeyPoints,
			Stance:                enum(in.Stance),
			Tone:                  enum(in.Tone),
			CredibilityIndicators: in.CredibilityIndicators,
		}
	}
	if c := r.Contributor; c != nil {
		a.Contributor = models.ContributorFacet{
			Score:            c.Score.value(),
			Expertise:        enum(c.Expertise),
			ContributionType: enum(c.ContributionType),
		}
	}
	return a
}

// number accepts JSON numbers, numeric strings and percentages; anything else reads as unset
type number struct {
	v *float64
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" || s == "null" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		n.v = &f
	}
	return nil
}

func (n number) set() bool { return n.v != nil }

func (n number) value() float64 {
	if n.v == nil {
		return 0
	}
	return *n.v
}

// stringList accepts an array of strings or a single string
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var many []any
	if err := json.Unmarshal(b, &many); err == nil {
		out := make([]string, 0, len(many))
		for _, v := range many {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		*l = out
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil && strings.TrimSpace(one) != "" {
		*l = []string{strings.TrimSpace(one)}
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func enum(p *string) string {
	return strings.ToLower(str(p))
}
