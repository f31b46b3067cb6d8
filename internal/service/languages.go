package service

import (
	"sort"
	"strings"
)

// Language describes how a submission language is judged.
type Language struct {
	Name        string
	JudgeID     int
	TemplateExt string
}

var languages = map[string]Language{
	"python":     {Name: "python", JudgeID: 71, TemplateExt: "py"},
	"cpp":        {Name: "cpp", JudgeID: 54, TemplateExt: "cpp"},
	"c":          {Name: "c", JudgeID: 50},
	"java":       {Name: "java", JudgeID: 62},
	"javascript": {Name: "javascript", JudgeID: 63},
}

// LookupLanguage resolves a language tag. Unknown tags are reported, never defaulted.
func LookupLanguage(name string) (Language, bool) {
	lang, ok := languages[normalizeLanguage(name)]
	return lang, ok
}

// SupportedLanguages lists the accepted language tags in stable order.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeLanguage(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
