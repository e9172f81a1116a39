package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/azure/discussion-pulse/internal/filter"
	"github.com/azure/discussion-pulse/internal/models"
)

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "love": true, "amazing": true, "awesome": true,
	"best": true, "helpful": true, "benefit": true, "benefits": true, "efficient": true, "improve": true,
	"improved": true, "success": true, "successful": true, "positive": true, "happy": true, "recommend": true,
	"impressive": true, "affordable": true, "savings": true, "reliable": true, "cheaper": true, "worth": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "hate": true, "worst": true, "problem": true,
	"problems": true, "issue": true, "issues": true, "fail": true, "failed": true, "expensive": true,
	"broken": true, "negative": true, "disappointed": true, "waste": true, "scam": true, "poor": true,
	"dangerous": true, "outage": true, "worse": true, "useless": true, "costly": true, "unreliable": true,
}

var expertiseMarkers = []string{
	"i work in", "i work at", "as an engineer", "as a researcher", "years of experience", "phd",
	"in my field", "professionally", "i'm an engineer", "i am an engineer", "electrician", "installer",
}

var experienceMarkers = []string{"i have", "i've", "we have", "we installed", "i installed", "my ", "our "}

var factMarkers = []string{"according to", "study", "studies", "data", "report", "research", "percent", "%"}

var analyticalMarkers = []string{"because", "therefore", "however", "data", "analysis", "compared", "evidence"}

const (
	sentimentBaseline = 50.0
	sentimentStep     = 10.0
)

// Fallback analyses an item with local heuristics. It is deterministic and always returns a
// complete Analysis.
func Fallback(in Input) models.Analysis {
	text := in.Text()
	lower := strings.ToLower(text)
	tokens := filter.Tokenize(text)
	words := len(tokens)
	sentences := countSentences(text)
	questions := strings.Count(text, "?")

	var a models.Analysis
	a.Method = models.MethodFallback

	pos, neg := 0, 0
	for _, t := range tokens {
		if positiveWords[t] {
			pos++
		}
		if negativeWords[t] {
			neg++
		}
	}
	a.Sentiment = fallbackSentiment(pos, neg)
	a.Relevancy = fallbackRelevancy(tokens, in.Keyword, in.Topics)

	clarity := 30.0
	coherence := 30.0
	if words >= 5 {
		avg := float64(words) / float64(sentences)
		clarity = 60
		if avg >= 8 && avg <= 25 {
			clarity = 80
		}
		coherence = math.Min(85, 50+float64(sentences)*5)
	}
	informativeness := math.Min(90, 20+float64(words)*0.7)
	a.Quality = models.QualityFacet{
		Clarity:         clarity,
		Coherence:       coherence,
		Informativeness: round(informativeness),
		Overall:         round((clarity + coherence + informativeness) / 3),
	}

	factors := []string{}
	if questions > 0 {
		factors = append(factors, "question")
	}
	if words > 50 {
		factors = append(factors, "detailed")
	}
	if words < 10 {
		factors = append(factors, "short")
	}
	if pos > 0 || neg > 0 {
		factors = append(factors, "opinionated")
	}
	a.Engagement = models.EngagementFacet{
		Score:               math.Min(100, 30+float64(min(questions, 3))*15+math.Min(30, float64(words)/5)),
		Factors:             factors,
		DiscussionPotential: math.Min(100, 20+float64(min(questions, 3))*20+float64(min(pos+neg, 4))*5),
	}

	expertise := models.ExpertiseNovice
	marker := containsAny(lower, expertiseMarkers)
	switch {
	case marker && words >= 40:
		expertise = models.ExpertiseExpert
	case marker || words >= 40:
		expertise = models.ExpertiseIntermediate
	}

	contribution := models.ContributionOpinion
	switch {
	case questions > 0 && words < 40:
		contribution = models.ContributionQuestion
	case containsAny(lower, experienceMarkers):
		contribution = models.ContributionExperience
	case containsAny(lower, factMarkers) || hasDigit(text):
		contribution = models.ContributionFact
	}

	contributor := 30 + math.Min(40, float64(words)/4)
	switch expertise {
	case models.ExpertiseExpert:
		contributor += 25
	case models.ExpertiseIntermediate:
		contributor += 10
	}
	a.Contributor = models.ContributorFacet{
		Score:            round(math.Min(100, contributor)),
		Expertise:        expertise,
		ContributionType: contribution,
	}

	a.Insights = models.InsightsFacet{
		KeyPoints:             keyPoints(text, 3),
		Stance:                fallbackStance(a.Sentiment.Classification, contribution, pos, neg),
		Tone:                  fallbackTone(text, lower, words),
		CredibilityIndicators: credibility(lower, text, contribution),
	}

	a.Normalize()
	return a
}

func fallbackSentiment(pos, neg int) models.SentimentFacet {
	score := models.Clamp(sentimentBaseline + sentimentStep*float64(pos-neg))

	classification := models.SentimentNeutral
	switch {
	case score > 60:
		classification = models.SentimentPositive
	case score < 40:
		classification = models.SentimentNegative
	}

	total := float64(pos + neg + 1)
	return models.SentimentFacet{
		Classification: classification,
		Confidence:     math.Min(100, 50+math.Abs(score-sentimentBaseline)),
		Positive:       round(float64(pos) / total * 100),
		Negative:       round(float64(neg) / total * 100),
		Neutral:        round(1 / total * 100),
	}
}

// fallbackRelevancy scores the share of keyword terms found in the text, plus a bounded bonus for topic words
func fallbackRelevancy(tokens []string, keyword string, topics []string) models.RelevancyFacet {
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}

	matched := []string{}
	seen := make(map[string]bool)
	kwTerms := filter.Tokenize(keyword)
	kwHits := 0
	for _, t := range kwTerms {
		if seen[t] {
			continue
		}
		seen[t] = true
		if present[t] {
			kwHits++
			matched = append(matched, t)
		}
	}

	topicHits := 0
	for _, phrase := range topics {
		for _, t := range filter.Tokenize(phrase) {
			if len(t) <= 3 || seen[t] {
				continue
			}
			seen[t] = true
			if present[t] {
				topicHits++
				matched = append(matched, t)
			}
		}
	}

	score := 0.0
	if len(kwTerms) > 0 {
		score = float64(kwHits) / float64(len(uniq(kwTerms))) * 70
	}
	score += math.Min(30, float64(topicHits)*10)

	return models.RelevancyFacet{
		Score:           round(score),
		Reasoning:       fmt.Sprintf("matched %d of %d keyword terms and %d topic terms", kwHits, len(uniq(kwTerms)), topicHits),
		MatchedKeywords: matched,
	}
}

func fallbackStance(classification, contribution string, pos, neg int) string {
	switch {
	case contribution == models.ContributionQuestion:
		return models.StanceQuestioning
	case pos > 0 && neg > 0 && classification == models.SentimentNeutral:
		return models.StanceMixed
	case classification == models.SentimentPositive:
		return models.StanceSupporting
	case classification == models.SentimentNegative:
		return models.StanceOpposing
	}
	return models.StanceNeutral
}

func fallbackTone(text, lower string, words int) string {
	switch {
	case strings.Count(text, "!") >= 2:
		return models.ToneEmotional
	case containsAny(lower, analyticalMarkers) || hasDigit(text):
		return models.ToneAnalytical
	case words >= 60 && !containsAny(" "+lower+" ", []string{" i ", " i'm ", " my "}):
		return models.ToneFormal
	}
	return models.ToneCasual
}

func credibility(lower, text, contribution string) []string {
	out := []string{}
	if containsAny(lower, []string{"according to", "source", "study", "report"}) {
		out = append(out, "cites sources")
	}
	if hasDigit(text) {
		out = append(out, "includes figures")
	}
	if contribution == models.ContributionExperience {
		out = append(out, "personal experience")
	}
	return out
}

// keyPoints returns up to n leading sentences, each capped in length
func keyPoints(text string, n int) []string {
	out := []string{}
	for _, s := range splitSentences(text) {
		if len(out) == n {
			break
		}
		if len([]rune(s)) > 140 {
			s = string([]rune(s)[:137]) + "..."
		}
		out = append(out, s)
	}
	return out
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); len(p) >= 3 {
			out = append(out, p)
		}
	}
	return out
}

func countSentences(text string) int {
	if n := len(splitSentences(text)); n > 0 {
		return n
	}
	return 1
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
