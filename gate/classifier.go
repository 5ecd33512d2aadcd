package gate

import (
	"strings"
	"unicode"
)

// Intent is what a conversational message asks the gate to do.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentNewRequest
	IntentApproval
	IntentRejection
)

func (i Intent) String() string {
	switch i {
	case IntentNewRequest:
		return "new_request"
	case IntentApproval:
		return "approval"
	case IntentRejection:
		return "rejection"
	default:
		return "unknown"
	}
}

// Classifier maps a message to an Intent.
type Classifier interface {
	Classify(text string) Intent
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) Intent

func (f ClassifierFunc) Classify(text string) Intent { return f(text) }

var (
	DefaultApprovals  = []string{"yes", "approve", "ok", "okay", "proceed", "go ahead", "sure", "fine"}
	DefaultRejections = []string{"no", "deny", "reject", "cancel", "stop", "abort", "decline", "refuse"}
	DefaultRequests   = []string{"weather", "forecast", "temperature"}
)

// KeywordClassifier matches keyword lists case-insensitively. Approval is
// checked before rejection, and both before new requests, so "yes, go, no
// wait" is an approval.
type KeywordClassifier struct {
	Requests   []string
	Approvals  []string
	Rejections []string

	// WholeWords restricts matches to word boundaries, so "no" no longer
	// matches "know" or "now". The default is plain substring matching.
	WholeWords bool
}

// NewKeywordClassifier creates a classifier with the default approval and
// rejection lists. A nil requests slice uses DefaultRequests.
func NewKeywordClassifier(requests []string) *KeywordClassifier {
	if requests == nil {
		requests = DefaultRequests
	}
	return &KeywordClassifier{
		Requests:   requests,
		Approvals:  DefaultApprovals,
		Rejections: DefaultRejections,
	}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(text string) Intent {
	normalized := c.normalize(text)
	switch {
	case c.matches(normalized, c.Approvals):
		return IntentApproval
	case c.matches(normalized, c.Rejections):
		return IntentRejection
	case c.matches(normalized, c.Requests):
		return IntentNewRequest
	default:
		return IntentUnknown
	}
}

func (c *KeywordClassifier) normalize(text string) string {
	text = strings.ToLower(text)
	if !c.WholeWords {
		return text
	}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}

func (c *KeywordClassifier) matches(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if c.WholeWords {
			kw = " " + kw + " "
		}
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
