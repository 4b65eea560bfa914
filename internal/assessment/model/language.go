package model

import (
	"strings"

	appErr "codeassess/pkg/errors"
)

// Language identifies an editor language. The set is closed.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
	LanguageGo         Language = "go"
)

// DefaultLanguage is used when a session has no stored language.
const DefaultLanguage = LanguageJavaScript

var languageAliases = map[string]Language{
	"javascript": LanguageJavaScript,
	"js":         LanguageJavaScript,
	"typescript": LanguageTypeScript,
	"ts":         LanguageTypeScript,
	"python":     LanguagePython,
	"py":         LanguagePython,
	"java":       LanguageJava,
	"cpp":        LanguageCPP,
	"c++":        LanguageCPP,
	"go":         LanguageGo,
	"golang":     LanguageGo,
}

// Languages lists every supported language in display order.
func Languages() []Language {
	return []Language{LanguageJavaScript, LanguageTypeScript, LanguagePython, LanguageJava, LanguageCPP, LanguageGo}
}

// ParseLanguage resolves a user supplied name. Empty input yields DefaultLanguage.
func ParseLanguage(name string) (Language, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultLanguage, nil
	}
	if lang, ok := languageAliases[name]; ok {
		return lang, nil
	}
	return "", appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", name).WithDetail("language", name)
}

// Valid reports whether l belongs to the enumeration.
func (l Language) Valid() bool {
	for _, known := range Languages() {
		if l == known {
			return true
		}
	}
	return false
}
