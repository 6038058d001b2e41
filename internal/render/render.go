// Package render substitutes the recipient placeholder into a message template.
package render

import "strings"

const (
	DefaultToken = "{name}"
	DefaultName  = "there"
)

// Options selects the placeholder token and the fallback label.
// Zero values mean DefaultToken and DefaultName.
type Options struct {
	Token       string
	DefaultName string
}

// Render replaces every occurrence of the placeholder token in subject and
// body with name (or the fallback label when name is blank). Other
// brace-delimited tokens are left as they are.
func Render(subject, body, name string, opt Options) (string, string) {
	token := opt.Token
	if token == "" {
		token = DefaultToken
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = opt.DefaultName
		if name == "" {
			name = DefaultName
		}
	}
	return strings.ReplaceAll(subject, token, name), strings.ReplaceAll(body, token, name)
}
