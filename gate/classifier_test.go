package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil)

	tests := []struct {
		text string
		want Intent
	}{
		{"What's the weather?", IntentNewRequest},
		{"Give me the FORECAST for Paris", IntentNewRequest},
		{"Yes", IntentApproval},
		{"ok", IntentApproval},
		{"Go ahead and pay", IntentApproval},
		{"sure thing", IntentApproval},
		{"No", IntentRejection},
		{"please cancel that", IntentRejection},
		{"I decline", IntentRejection},
		{"yes... no wait", IntentApproval},
		{"No, not okay", IntentApproval},
		{"what's the weather? no thanks", IntentRejection},
		{"hello there", IntentUnknown},
		{"", IntentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestKeywordClassifier_WholeWords(t *testing.T) {
	substring := NewKeywordClassifier(nil)
	whole := NewKeywordClassifier(nil)
	whole.WholeWords = true

	assert.Equal(t, IntentRejection, substring.Classify("I know it's cold, weather please"))
	assert.Equal(t, IntentNewRequest, whole.Classify("I know it's cold, weather please"))
	assert.Equal(t, IntentApproval, whole.Classify("OK!"))
	assert.Equal(t, IntentApproval, whole.Classify("please, go ahead."))
	assert.Equal(t, IntentRejection, whole.Classify("no."))
}

func TestKeywordClassifier_CustomRequests(t *testing.T) {
	c := NewKeywordClassifier([]string{"stock quote"})
	assert.Equal(t, IntentNewRequest, c.Classify("get me a stock quote"))
	assert.Equal(t, IntentUnknown, c.Classify("weather"))
}

func TestClassifierFunc(t *testing.T) {
	c := ClassifierFunc(func(string) Intent { return IntentApproval })
	assert.Equal(t, IntentApproval, c.Classify("anything"))
}

func TestIntentString(t *testing.T) {
	assert.Equal(t, "approval", IntentApproval.String())
	assert.Equal(t, "rejection", IntentRejection.String())
	assert.Equal(t, "new_request", IntentNewRequest.String())
	assert.Equal(t, "unknown", IntentUnknown.String())
}
