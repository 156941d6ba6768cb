package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dhcgn/readreply/model"
)

func personal() model.CanonicalMessage {
	return model.CanonicalMessage{
		FromName:  "Alice",
		FromEmail: "alice@example.com",
		ReplyTo:   "alice@example.com",
		Subject:   "Lunch on Thursday?",
		Body:      "Are you free around noon?",
		Headers: []model.HeaderEntry{
			{Name: "From", Value: "Alice <alice@example.com>"},
			{Name: "Subject", Value: "Lunch on Thursday?"},
		},
	}
}

func withHeader(msg model.CanonicalMessage, name, value string) model.CanonicalMessage {
	msg.Headers = append(append([]model.HeaderEntry(nil), msg.Headers...), model.HeaderEntry{Name: name, Value: value})
	return msg
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		msg  func() model.CanonicalMessage
		want Verdict
	}{
		{
			name: "personal mail",
			msg:  personal,
			want: Verdict{},
		},
		{
			name: "precedence bulk",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "Precedence", "bulk") },
			want: Verdict{Bulk: true, Rule: RulePrecedence},
		},
		{
			name: "precedence case-insensitive name and value",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "PRECEDENCE", "List") },
			want: Verdict{Bulk: true, Rule: RulePrecedence},
		},
		{
			name: "precedence first-class is not bulk",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "Precedence", "first-class") },
			want: Verdict{},
		},
		{
			name: "auto-submitted auto-replied",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "Auto-Submitted", "auto-replied") },
			want: Verdict{Bulk: true, Rule: RuleAutoSubmitted},
		},
		{
			name: "auto-submitted no",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "Auto-Submitted", "No") },
			want: Verdict{},
		},
		{
			name: "list-id",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "list-id", "<dev.lists.example.com>") },
			want: Verdict{Bulk: true, Rule: RuleListHeaders},
		},
		{
			name: "empty list-unsubscribe ignored",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "List-Unsubscribe", "") },
			want: Verdict{},
		},
		{
			name: "x-auto-response-suppress",
			msg:  func() model.CanonicalMessage { return withHeader(personal(), "X-Auto-Response-Suppress", "All") },
			want: Verdict{Bulk: true, Rule: RuleListHeaders},
		},
		{
			name: "noreply sender",
			msg: func() model.CanonicalMessage {
				m := personal()
				m.FromEmail = "No-Reply@shop.example.com"
				return m
			},
			want: Verdict{Bulk: true, Rule: RuleSender},
		},
		{
			name: "newsletter subject",
			msg: func() model.CanonicalMessage {
				m := personal()
				m.Subject = "Our March Newsletter"
				return m
			},
			want: Verdict{Bulk: true, Rule: RuleSubject},
		},
		{
			name: "body footer",
			msg: func() model.CanonicalMessage {
				m := personal()
				m.Body = "Thanks!\n\nManage Preferences | Privacy"
				return m
			},
			want: Verdict{Bulk: true, Rule: RuleBody},
		},
		{
			name: "header rule wins over subject",
			msg: func() model.CanonicalMessage {
				m := withHeader(personal(), "Precedence", "junk")
				m.Subject = "big sale"
				return m
			},
			want: Verdict{Bulk: true, Rule: RulePrecedence},
		},
		{
			name: "last duplicate header wins",
			msg: func() model.CanonicalMessage {
				return withHeader(withHeader(personal(), "Precedence", "bulk"), "Precedence", "normal")
			},
			want: Verdict{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.msg())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Bulk, IsBulk(tt.msg()))
		})
	}
}

func TestEvaluate_SubjectSubstring(t *testing.T) {
	// "deal" also matches inside longer words; the heuristic accepts that.
	m := personal()
	m.Subject = "Dealing with the move"
	assert.True(t, IsBulk(m))
}
