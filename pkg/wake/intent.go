package wake

import "strings"

// Intent is a recognized voice command.
type Intent int

const (
	IntentNone Intent = iota
	IntentUnknown
	IntentDescribe
	IntentCount
	IntentStart
	IntentStop
)

func (i Intent) String() string {
	switch i {
	case IntentDescribe:
		return "describe"
	case IntentCount:
		return "count"
	case IntentStart:
		return "start"
	case IntentStop:
		return "stop"
	case IntentUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// Keyword lists include common speech-to-text misrecognitions on small
// models, e.g. "thank you" for "start" and "top" for "stop".
var (
	describePhrases = []string{"what do you see", "detect objects", "what is there", "whats there"}
	countPhrases    = []string{"how many"}
	startPhrases    = []string{"thank you"}

	stopWords     = []string{"stop", "end", "pause", "halt", "finish", "stopped", "stopping", "top", "hop"}
	startWords    = []string{"start", "detect", "begin", "go", "run", "starred", "starting", "started", "stat", "star", "thanks"}
	describeWords = []string{"what", "whats", "see", "look", "show", "describe", "tell", "announce"}
)

// ParseIntent classifies a command transcript. Empty text is IntentNone;
// text matching no keyword is IntentUnknown. Keywords match whole words.
func ParseIntent(transcript string) Intent {
	text := Normalize(transcript)
	if text == "" {
		return IntentNone
	}
	padded := " " + text + " "
	hasPhrase := func(phrases []string) bool {
		for _, p := range phrases {
			if strings.Contains(padded, " "+p+" ") {
				return true
			}
		}
		return false
	}

	words := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		words[w] = true
	}
	hasWord := func(list []string) bool {
		for _, w := range list {
			if words[w] {
				return true
			}
		}
		return false
	}

	switch {
	case hasPhrase(countPhrases):
		return IntentCount
	case hasPhrase(describePhrases):
		return IntentDescribe
	case hasWord(stopWords):
		return IntentStop
	case hasWord(startWords) || hasPhrase(startPhrases):
		return IntentStart
	case hasWord(describeWords):
		return IntentDescribe
	default:
		return IntentUnknown
	}
}
