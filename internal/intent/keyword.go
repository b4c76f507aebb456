package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Classifier turns a query into an intent.
type Classifier interface {
	Classify(ctx context.Context, q Query) (Intent, error)
	Name() string
}

// Keyword sets match whole words in lowercased text. A trailing plural "s" is
// accepted, other inflections are listed.
var (
	safetyWords = wordMatcher(
		"safe", "safer", "safest", "safety", "unsafe", "danger", "dangerous",
		"crash", "crashes", "accident", "traffic", "risk", "risky", "hazard",
		"hazardous", "pedestrian", "vehicle", "collision",
	)
	closureWords = wordMatcher(
		"closure", "construction", "closed", "detour",
		"blocked", "permit", "roadwork", "maintenance",
	)
	busyRoadWords = wordMatcher("busy road", "busy street", "main road", "highway", "major road")
	avoidCues     = wordMatcher("avoid", "avoiding", "away from", "without", "stay off", "steer clear", "no")

	distancePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(km|kms|k|kilometers?|kilometres?|mi|miles?)\b`)
)

const kmPerMile = 1.609344

// KeywordClassifier classifies by keyword matching and a distance pattern. It never calls out.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the deterministic classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Name returns "keyword".
func (c *KeywordClassifier) Name() string {
	return "keyword"
}

// Classify reads safety emphasis, avoidances and the target distance from q.Text.
func (c *KeywordClassifier) Classify(ctx context.Context, q Query) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, &ClassificationError{Classifier: c.Name(), Err: err}
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if len(text) < MinQueryLength {
		return Intent{}, &ClassificationError{Classifier: c.Name(), Err: ErrEmptyQuery}
	}

	emphasis := EmphasisNone
	var avoid []Avoidance

	wantsAvoid := avoidCues.MatchString(text)
	if safetyWords.MatchString(text) {
		emphasis = EmphasisSafety
		if wantsAvoid {
			avoid = append(avoid, AvoidHighCrash)
		}
	}
	if closureWords.MatchString(text) {
		avoid = append(avoid, AvoidConstruction)
	}
	if busyRoadWords.MatchString(text) {
		avoid = append(avoid, AvoidBusyRoads)
	}

	return New(ParseDistance(text), emphasis, avoid...), nil
}

// ParseDistance extracts a running distance in kilometres from text. It returns nil when no
// distance is found or the value is outside (0, MaxDistanceKm].
func ParseDistance(text string) *float64 {
	text = strings.ToLower(text)

	var km float64
	switch m := distancePattern.FindStringSubmatch(text); {
	case m != nil:
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		km = v
		if strings.HasPrefix(m[2], "mi") {
			km = v * kmPerMile
		}
	case strings.Contains(text, "half marathon"), strings.Contains(text, "half-marathon"):
		km = 21.0975
	case strings.Contains(text, "marathon"):
		km = 42.195
	default:
		return nil
	}

	if !validDistance(km) {
		return nil
	}
	return &km
}

func wordMatcher(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)s?\b`)
}
