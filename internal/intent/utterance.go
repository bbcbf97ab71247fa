package intent

import (
	"strings"

	"github.com/MoonshotLab/carmen/internal/domain"
)

// SmallTalk is a conversational intent that does not involve a room.
type SmallTalk int

const (
	SmallTalkNone SmallTalk = iota
	SmallTalkGreeting
	SmallTalkAcknowledge
	SmallTalkThanks
)

var (
	feedbackMatchers = compileAll("feedback", "suggestion", "suggestions")
	greetingMatchers = compileAll("hi", "hello", "hey", "who are you", "what is this")
	thanksMatchers   = compileAll("thanks", "thank you", "thx")

	affirmativeWords = wordSet("yes", "yea", "yeah", "yah", "yup", "yep", "ya", "y", "sure", "ok", "okay", "correct", "right")
	negativeWords    = wordSet("no", "nah", "nope", "n", "not", "wrong")
	acknowledgements = wordSet("ok", "okay", "k", "kk")
	pictureWords     = wordSet("p", "pic", "picture", "photo")
	mapWords         = wordSet("m", "map")
)

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func firstWord(normalized string) string {
	if i := strings.IndexByte(normalized, ' '); i >= 0 {
		return normalized[:i]
	}
	return normalized
}

// IsAffirmative reports whether a reply to a yes/no question means yes.
func IsAffirmative(normalized string) bool {
	_, ok := affirmativeWords[firstWord(normalized)]
	return ok
}

// IsNegative reports whether a reply to a yes/no question means no.
func IsNegative(normalized string) bool {
	_, ok := negativeWords[firstWord(normalized)]
	return ok
}

// IsFeedback reports whether the message is a feedback submission.
func IsFeedback(normalized string) bool {
	return matchAny(feedbackMatchers, normalized)
}

// ImageRequest reports whether the whole message asks for the last room's
// picture ("P") or map ("M").
func ImageRequest(normalized string) (domain.ImageType, bool) {
	if _, ok := pictureWords[normalized]; ok {
		return domain.ImagePicture, true
	}
	if _, ok := mapWords[normalized]; ok {
		return domain.ImageMap, true
	}
	return "", false
}

// ClassifySmallTalk detects greetings, acknowledgements and thanks.
func ClassifySmallTalk(normalized string) SmallTalk {
	switch {
	case normalized == "":
		return SmallTalkNone
	case matchAny(greetingMatchers, normalized):
		return SmallTalkGreeting
	case isAcknowledgement(normalized):
		return SmallTalkAcknowledge
	case matchAny(thanksMatchers, normalized):
		return SmallTalkThanks
	}
	return SmallTalkNone
}

func isAcknowledgement(normalized string) bool {
	_, ok := acknowledgements[normalized]
	return ok
}
