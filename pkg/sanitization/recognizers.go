package sanitization

import "regexp"

// recognizer pairs a detection pattern with the placeholder type it
// anonymizes to. Patterns are ordered by specificity: the curated secrets
// catalog and structured identifiers run before the broader name/location
// heuristics so a token is never double-classified.
type recognizer struct {
	entityType  string
	placeholder string
	pattern     *regexp.Regexp
}

// entityRecognizers is the curated recognizer catalog: the
// standard entity types (email, phone, name, location, credit card, IP,
// username) plus the secrets catalog (AWS/GitHub/Google/Stripe/Slack
// keys, JWTs, PEM headers, generic secret assignments, DB URIs, private
// network URLs).
var entityRecognizers = []recognizer{
	{"AWS_KEY", "[API_KEY]", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"GITHUB_TOKEN_CLASSIC", "[API_KEY]", regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`)},
	{"GITHUB_TOKEN_FINE_GRAINED", "[API_KEY]", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`)},
	{"GOOGLE_API_KEY", "[API_KEY]", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"STRIPE_KEY", "[API_KEY]", regexp.MustCompile(`(?:sk|pk)_(?:test|live)_[A-Za-z0-9]{16,}`)},
	{"SLACK_TOKEN", "[API_KEY]", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]+`)},
	{"JWT", "[API_KEY]", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
	{"PEM_PRIVATE_KEY", "[API_KEY]", regexp.MustCompile(`-----BEGIN (?:RSA )?PRIVATE KEY-----`)},
	{"CONNECTION_STRING", "[API_KEY]", regexp.MustCompile(`(?i)(?:postgres(?:ql)?|mysql|mongodb|redis|amqp)://\S+`)},
	{"PRIVATE_URL", "[API_KEY]", regexp.MustCompile(`(?:https?://)?(?:localhost|127\.0\.0\.1|10\.\d+\.\d+\.\d+|192\.168\.\d+\.\d+|172\.(?:1[6-9]|2\d|3[01])\.\d+\.\d+)(?::\d+)?(?:/\S*)?`)},
	{"GENERIC_SECRET", "[API_KEY]", regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?\S{8,}['"]?`)},
	{"PASSWORD", "[REDACTED]", regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*['"]?\S{3,}['"]?`)},
	{"USERNAME", "[USERNAME]", regexp.MustCompile(`(?i)(?:username|user[_-]?name)\s*[:=]\s*['"]?\S{2,}['"]?`)},
	{"SSN", "[REDACTED]", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"EMAIL", "[EMAIL]", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"CREDIT_CARD", "[CREDIT_CARD]", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{"IP_ADDRESS", "[IP_ADDRESS]", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{"PHONE", "[PHONE]", regexp.MustCompile(`(?i)(?:(?:call|phone|tel|mobile|cell)\s+)?(?:\+?\d{1,2}[ .\-]?)?\(?\d{3}\)?[ .\-]\d{3}[ .\-]\d{4}\b`)},
	// NAME/LOCATION stand in for a zero-shot NER pass that would normally
	// delegate to a transformer model. Without an ML loader on hand, this
	// is a bounded heuristic: a small set of narrative triggers followed
	// by a capitalized word sequence.
	{"NAME", "[NAME]", regexp.MustCompile(`\b(?:Contact|Dear|Hi|Hello|signed by|I'm|I am|My name is|regards,?)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+){0,2})\b`)},
	{"LOCATION", "[LOCATION]", regexp.MustCompile(`\b(?:in|at|from|near)\s+([A-Z][a-z]+(?:,\s?[A-Z][a-z]+)?)\s+(?:office|headquarters|branch|warehouse|datacenter|data center)\b`)},
}
