// Package classify decides whether a message is automated or bulk mail that
// should not get a personal reply.
package classify

import (
	"strings"

	"github.com/dhcgn/readreply/model"
)

// Rule names the check that flagged a message.
type Rule string

const (
	RuleNone          Rule = ""
	RulePrecedence    Rule = "precedence"
	RuleAutoSubmitted Rule = "auto-submitted"
	RuleListHeaders   Rule = "list-headers"
	RuleSender        Rule = "sender"
	RuleSubject       Rule = "subject"
	RuleBody          Rule = "body"
)

// Token lists are matched as lowercase substrings. Keep them as they are:
// rule order and list content together define the heuristic.
var (
	BulkPrecedence = []string{"bulk", "junk", "list"}
	ListHeaders    = []string{"List-Unsubscribe", "List-Id", "X-Auto-Response-Suppress"}
	SenderTokens   = []string{"no-reply", "noreply", "mailer-daemon", "postmaster"}
	SubjectTokens  = []string{
		"unsubscribe", "sale", "promotion", "newsletter", "deal",
		"offer", "discount", "webinar", "digest", "trial",
	}
	BodyTokens = []string{"unsubscribe", "view in browser", "manage preferences"}
)

// Verdict is the outcome of a classification.
type Verdict struct {
	Bulk bool
	Rule Rule
}

// Func is a classification policy.
type Func func(model.CanonicalMessage) Verdict

// IsBulk reports whether msg looks like automated or bulk mail.
func IsBulk(msg model.CanonicalMessage) bool {
	return Evaluate(msg).Bulk
}

// Evaluate runs the rules in order and stops at the first match.
func Evaluate(msg model.CanonicalMessage) Verdict {
	precedence := strings.ToLower(header(msg, "Precedence"))
	for _, v := range BulkPrecedence {
		if precedence == v {
			return Verdict{Bulk: true, Rule: RulePrecedence}
		}
	}

	if auto := strings.ToLower(header(msg, "Auto-Submitted")); auto != "" && auto != "no" {
		return Verdict{Bulk: true, Rule: RuleAutoSubmitted}
	}

	for _, name := range ListHeaders {
		if header(msg, name) != "" {
			return Verdict{Bulk: true, Rule: RuleListHeaders}
		}
	}

	if containsAny(strings.ToLower(msg.FromEmail), SenderTokens) {
		return Verdict{Bulk: true, Rule: RuleSender}
	}
	if containsAny(strings.ToLower(msg.Subject), SubjectTokens) {
		return Verdict{Bulk: true, Rule: RuleSubject}
	}
	if containsAny(strings.ToLower(msg.Body), BodyTokens) {
		return Verdict{Bulk: true, Rule: RuleBody}
	}

	return Verdict{}
}

// header returns the value of the last header named name.
func header(msg model.CanonicalMessage, name string) string {
	value, _ := msg.Header(name)
	return value
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
