// Package seller classifies listing sellers as owner or agency using a
// deterministic, explainable scorer. There is no trained model: operators
// correcting mis-tagged listings must be able to reproduce and inspect
// every decision from its evidence trail.
package seller

import (
	"regexp"
	"strconv"
	"strings"

	"olxmonitor/internal/listing"
)

// Signal weights per family. The explicit site hint short-circuits
// classification entirely.
const (
	keywordWeight   = 1.0
	phraseWeight    = 2.0
	phoneWeight     = 2.0
	vocabWeight     = 1.0
	nameHintWeight  = 2.0
	longDescription = 400
)

var ownerKeywords = []string{
	"власник", "власниця", "від власника", "без посередників",
	"приватна особа", "безпосередньо", "хазяїн", "хазяйка",
	"особисто", "прямий продаж", "без агентства", "без комісії",
}

var agencyKeywords = []string{
	"агентство", "ріелтор", "нерухомість", "estate", "realty",
	"девелопер", "забудовник", "компанія", "тов", "фірма",
	"центр нерухомості", "операції з нерухомістю", "професійний ріелтор",
}

var ownerPhrases = []*regexp.Regexp{
	regexp.MustCompile(`від\s+власника`),
	regexp.MustCompile(`без\s+посередник\pL*`),
	regexp.MustCompile(`особисто`),
	regexp.MustCompile(`хазя\pL+`),
	regexp.MustCompile(`без\s+комісі\pL*`),
	regexp.MustCompile(`приватна\s+особа`),
}

var agencyPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(агентств|ріелтор|realtor|estate)\pL*`),
	regexp.MustCompile(`(тов|пп|ооо|компанія)\s`),
	regexp.MustCompile(`центр\s+нерухомості|операції\s+з\s+нерухомістю`),
	regexp.MustCompile(`професійний\s+ріелтор|licensed\s+agent`),
}

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+380\d{9}`),
	regexp.MustCompile(`0\d{2}\s?\d{3}\s?\d{4}`),
	regexp.MustCompile(`\d{3}-\d{3}-\d{4}`),
}

// professionalVocab marks dense agency-style marketing language in long
// descriptions.
var professionalVocab = []string{
	"об'єкт", "пропозиці", "клієнт", "юридичн", "супровід", "іпотек",
}

// Input carries everything the classifier may consider for one listing.
// The hints are optional site-provided attributes.
type Input struct {
	Title          string
	Description    string
	SellerNameHint string
	SellerTypeHint string
}

// Result is a classification with its full evidence trail. Evidence keeps
// every triggered signal, not just the winning side.
type Result struct {
	Type       listing.SellerType
	Confidence float64
	Evidence   []listing.Signal
}

// Classify scores the input against owner and agency signal families.
// An unambiguous site hint wins outright; otherwise the higher accumulated
// score wins with confidence = winning / (owner + agency). No signal at
// all yields unknown with confidence 0.
func Classify(in Input) Result {
	if hint := strings.ToLower(strings.TrimSpace(in.SellerTypeHint)); hint != "" {
		side := listing.SellerAgency
		if strings.Contains(hint, "приватна особа") || strings.Contains(hint, "private person") {
			side = listing.SellerOwner
		}
		return Result{
			Type:       side,
			Confidence: 1,
			Evidence: []listing.Signal{
				{Name: "type_hint", Value: in.SellerTypeHint, Weight: 1, Side: string(side)},
			},
		}
	}

	text := strings.ToLower(in.Title + " " + in.Description)

	var ownerScore, agencyScore float64
	var evidence []listing.Signal

	score := func(side string, name, value string, weight float64) {
		evidence = append(evidence, listing.Signal{Name: name, Value: value, Weight: weight, Side: side})
		if side == string(listing.SellerOwner) {
			ownerScore += weight
		} else {
			agencyScore += weight
		}
	}

	// Keyword hits are additive per occurrence, not deduplicated.
	for _, kw := range ownerKeywords {
		if n := strings.Count(text, kw); n > 0 {
			score("owner", "keyword", kw, keywordWeight*float64(n))
		}
	}
	for _, kw := range agencyKeywords {
		if n := strings.Count(text, kw); n > 0 {
			score("agency", "keyword", kw, keywordWeight*float64(n))
		}
	}

	// Multi-word phrase patterns weigh higher than single keywords.
	for _, re := range ownerPhrases {
		if m := re.FindString(text); m != "" {
			score("owner", "phrase", m, phraseWeight)
		}
	}
	for _, re := range agencyPhrases {
		if m := re.FindString(text); m != "" {
			score("agency", "phrase", m, phraseWeight)
		}
	}

	// Secondary heuristics.
	if n := countPhones(text); n >= 2 {
		score("agency", "multiple_phones", strconv.Itoa(n), phoneWeight)
	}
	if len(in.Description) > longDescription {
		hits := 0
		for _, v := range professionalVocab {
			hits += strings.Count(text, v)
		}
		if hits >= 3 {
			score("agency", "professional_vocabulary", "", vocabWeight)
		}
	}
	if name := strings.ToLower(in.SellerNameHint); name != "" {
		for _, kw := range []string{"агентство", "нерухомість", "estate", "realty", "тов"} {
			if strings.Contains(name, kw) {
				score("agency", "seller_name", in.SellerNameHint, nameHintWeight)
				break
			}
		}
	}

	total := ownerScore + agencyScore
	if total == 0 {
		return Result{Type: listing.SellerUnknown, Confidence: 0}
	}

	// Ties go to agency, the conservative call for downstream pricing.
	winner := listing.SellerAgency
	winning := agencyScore
	if ownerScore > agencyScore {
		winner = listing.SellerOwner
		winning = ownerScore
	}

	confidence := winning / total
	if confidence > 1 {
		confidence = 1
	}

	return Result{Type: winner, Confidence: confidence, Evidence: evidence}
}

func countPhones(text string) int {
	count := 0
	for _, re := range phonePatterns {
		count += len(re.FindAllString(text, -1))
	}
	return count
}
