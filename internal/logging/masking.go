package logging

import (
	"fmt"
	"regexp"
)

// Fields whose JSON values are replaced with "*" before logging.
var maskedFields = []string{
	"ak",
	"sk",
	"securityToken",
	"sign_ak",
	"sign_sk",
	"passwd",
	"password",
	"vcn_stream_pwd",
	"stream_pwd",
}

var (
	urlAuthPattern = regexp.MustCompile(`://[^ /]*?:[^ /]*?@`)
	fieldPatterns  = buildFieldPatterns()
)

type fieldPattern struct {
	re          *regexp.Regexp
	replacement string
}

func buildFieldPatterns() []fieldPattern {
	patterns := make([]fieldPattern, 0, len(maskedFields))
	for _, field := range maskedFields {
		re := regexp.MustCompile(fmt.Sprintf(`"%s"[ ]*:[ ]*".*?"`, regexp.QuoteMeta(field)))
		patterns = append(patterns, fieldPattern{
			re:          re,
			replacement: fmt.Sprintf(`"%s":"*"`, field),
		})
	}
	return patterns
}

// Mask replaces credential material embedded in data with "*" so request
// and report payloads can be logged safely. It masks url userinfo and the
// values of known secret-bearing JSON fields.
func Mask(data string) string {
	result := urlAuthPattern.ReplaceAllString(data, "://*:*@")
	for _, p := range fieldPatterns {
		result = p.re.ReplaceAllString(result, p.replacement)
	}
	return result
}
