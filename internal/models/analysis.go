package models

import "math"

// Sentiment classifications
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Stances
const (
	StanceSupporting  = "supporting"
	StanceOpposing    = "opposing"
	StanceNeutral     = "neutral"
	StanceQuestioning = "questioning"
	StanceMixed       = "mixed"
)

// Tones
const (
	ToneFormal     = "formal"
	ToneCasual     = "casual"
	ToneEmotional  = "emotional"
	ToneAnalytical = "analytical"
)

// Expertise tiers
const (
	ExpertiseNovice       = "novice"
	ExpertiseIntermediate = "intermediate"
	ExpertiseExpert       = "expert"
)

// Contribution types
const (
	ContributionOpinion    = "opinion"
	ContributionFact       = "fact"
	ContributionExperience = "experience"
	ContributionQuestion   = "question"
)

// Analysis methods
const (
	MethodAI       = "ai"
	MethodFallback = "fallback"
)

// Analysis is the enrichment attached to every stored item
type Analysis struct {
	Sentiment   SentimentFacet   `json:"sentiment"`
	Relevancy   RelevancyFacet   `json:"relevancy"`
	Quality     QualityFacet     `json:"quality"`
	Engagement  EngagementFacet  `json:"engagement"`
	Insights    InsightsFacet    `json:"insights"`
	Contributor ContributorFacet `json:"contributor"`
	Method      string           `json:"method"`
}

type SentimentFacet struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Positive       float64 `json:"positive"`
	Negative       float64 `json:"negative"`
	Neutral        float64 `json:"neutral"`
}

type RelevancyFacet struct {
	Score           float64  `json:"score"`
	Reasoning       string   `json:"reasoning"`
	MatchedKeywords []string `json:"matchedKeywords"`
}

type QualityFacet struct {
	Clarity         float64 `json:"clarity"`
	Coherence       float64 `json:"coherence"`
	Informativeness float64 `json:"informativeness"`
	Overall         float64 `json:"overall"`
}

type EngagementFacet struct {
	Score               float64  `json:"score"`
	Factors             []string `json:"factors"`
	DiscussionPotential float64  `json:"discussionPotential"`
}

type InsightsFacet struct {
	KeyPoints             []string `json:"keyPoints"`
	Stance                string   `json:"stance"`
	Tone                  string   `json:"tone"`
	CredibilityIndicators []string `json:"credibilityIndicators"`
}

type ContributorFacet struct {
	Score            float64 `json:"score"`
	Expertise        string  `json:"expertise"`
	ContributionType string  `json:"contributionType"`
}

// Normalize clamps every numeric field to [0,100], replaces unknown or empty enums with their
// defaults and turns nil lists into empty ones. It is idempotent.
func (a *Analysis) Normalize() {
	s := &a.Sentiment
	s.Classification = oneOf(s.Classification, SentimentNeutral, SentimentPositive, SentimentNegative, SentimentNeutral)
	s.Confidence = Clamp(s.Confidence)
	s.Positive, s.Negative, s.Neutral = rescale(Clamp(s.Positive), Clamp(s.Negative), Clamp(s.Neutral), s.Classification)

	a.Relevancy.Score = Clamp(a.Relevancy.Score)
	if a.Relevancy.MatchedKeywords == nil {
		a.Relevancy.MatchedKeywords = []string{}
	}

	q := &a.Quality
	q.Clarity = Clamp(q.Clarity)
	q.Coherence = Clamp(q.Coherence)
	q.Informativeness = Clamp(q.Informativeness)
	q.Overall = Clamp(q.Overall)

	a.Engagement.Score = Clamp(a.Engagement.Score)
	a.Engagement.DiscussionPotential = Clamp(a.Engagement.DiscussionPotential)
	if a.Engagement.Factors == nil {
		a.Engagement.Factors = []string{}
	}

	in := &a.Insights
	in.Stance = oneOf(in.Stance, StanceNeutral, StanceSupporting, StanceOpposing, StanceNeutral, StanceQuestioning, StanceMixed)
	in.Tone = oneOf(in.Tone, ToneCasual, ToneFormal, ToneCasual, ToneEmotional, ToneAnalytical)
	if in.KeyPoints == nil {
		in.KeyPoints = []string{}
	}
	if in.CredibilityIndicators == nil {
		in.CredibilityIndicators = []string{}
	}

	c := &a.Contributor
	c.Score = Clamp(c.Score)
	c.Expertise = oneOf(c.Expertise, ExpertiseNovice, ExpertiseNovice, ExpertiseIntermediate, ExpertiseExpert)
	c.ContributionType = oneOf(c.ContributionType, ContributionOpinion,
		ContributionOpinion, ContributionFact, ContributionExperience, ContributionQuestion)

	a.Method = oneOf(a.Method, MethodFallback, MethodAI, MethodFallback)
}

// AggregateScore is the composite used for "aggregateScore" sorting
func (a Analysis) AggregateScore() float64 {
	sum := a.Relevancy.Score + a.Quality.Overall + a.Engagement.Score + a.Contributor.Score
	return math.Round(sum/4*100) / 100
}

// Clamp bounds v to [0,100]; NaN becomes 0
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func oneOf(v, def string, allowed ...string) string {
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

// rescale makes the three sentiment percentages sum to 100, keeping their proportions
func rescale(pos, neg, neu float64, classification string) (float64, float64, float64) {
	total := pos + neg + neu
	if total == 0 {
		switch classification {
		case SentimentPositive:
			return 100, 0, 0
		case SentimentNegative:
			return 0, 100, 0
		default:
			return 0, 0, 100
		}
	}
	if math.Abs(total-100) < 0.01 {
		return pos, neg, neu
	}
	pos = math.Round(pos/total*10000) / 100
	neg = math.Round(neg/total*10000) / 100
	return pos, neg, math.Round((100-pos-neg)*100) / 100
}
