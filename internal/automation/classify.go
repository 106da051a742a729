package automation

import (
	"strings"

	"github.com/Lvvv7/Intelligent-certificate/internal/status"
)

// verdict is the decision taken for an on-page login error message.
type verdict int

const (
	// verdictFatal ends the run immediately with the mapped kind.
	verdictFatal verdict = iota
	// verdictRetry re-runs the captcha/submit cycle.
	verdictRetry
)

// messageRule maps a known error-tip substring to its outcome.
type messageRule struct {
	match   string
	verdict verdict
	kind    status.Kind
}

// loginMessageRules is the exhaustive table of recognized portal error
// messages. Order matters: the first match wins. Unlisted text falls through
// to a fatal, unclassified verdict carrying the raw message.
var loginMessageRules = []messageRule{
	{match: "用户名或密码不正确", verdict: verdictFatal, kind: status.KindCredentials},
	{match: "请输入统一社会信用代码", verdict: verdictRetry},
	{match: "请进行滑块验证", verdict: verdictRetry},
}

// classifyLoginMessage decides how to react to the error tip shown after a
// failed submission.
func classifyLoginMessage(text string) (verdict, status.Kind) {
	for _, rule := range loginMessageRules {
		if strings.Contains(text, rule.match) {
			return rule.verdict, rule.kind
		}
	}
	return verdictFatal, status.KindRetryExhausted
}
