package service

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

const pythonIOMarker = "\n# --- Input/Output Handling ---"

var (
	pythonSolutionHead = regexp.MustCompile(`class\s+Solution\b`)
	cppSolutionBlock   = regexp.MustCompile(`(?s)class\s+Solution\s*\{.*?\};`)
)

// TemplateSource finds the full program template for a problem.
type TemplateSource interface {
	Template(problem models.Problem, lang Language) (string, bool)
}

// FileTemplateSource reads templates from <root>/<contest name>/<problem code>/solution.<ext>.
type FileTemplateSource struct {
	Root string
}

// Template returns the template contents when a readable file exists.
func (s FileTemplateSource) Template(problem models.Problem, lang Language) (string, bool) {
	if lang.TemplateExt == "" || s.Root == "" {
		return "", false
	}

	contestName := ""
	if problem.Contest != nil {
		contestName = strings.TrimSpace(problem.Contest.Name)
	}

	path := filepath.Join(s.Root, contestName, strings.TrimSpace(problem.Code), "solution."+lang.TemplateExt)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(content), true
}

// WrapWithTemplate injects the user's Solution block into the template.
// It returns userCode unchanged whenever either side has no recognisable block.
func WrapWithTemplate(language, userCode, template string) string {
	if template == "" {
		return userCode
	}

	switch normalizeLanguage(language) {
	case "python":
		return wrapPython(userCode, template)
	case "cpp":
		return wrapCpp(userCode, template)
	default:
		return userCode
	}
}

func wrapPython(userCode, template string) string {
	blocks := pythonSolutionBlocks(userCode)
	if len(blocks) == 0 {
		return userCode
	}
	userBlock := userCode[blocks[0][0]:blocks[0][1]]

	targets := pythonSolutionBlocks(template)
	if len(targets) == 0 {
		return userCode
	}

	var out strings.Builder
	last := 0
	for _, target := range targets {
		out.WriteString(template[last:target[0]])
		out.WriteString(userBlock)
		last = target[1]
	}
	out.WriteString(template[last:])
	return out.String()
}

// pythonSolutionBlocks spans each "class Solution" up to the I/O marker or the end of input.
func pythonSolutionBlocks(code string) [][2]int {
	var blocks [][2]int
	offset := 0
	for offset <= len(code) {
		loc := pythonSolutionHead.FindStringIndex(code[offset:])
		if loc == nil {
			break
		}
		start := offset + loc[0]
		headEnd := offset + loc[1]

		end := len(code)
		if idx := strings.Index(code[headEnd:], pythonIOMarker); idx >= 0 {
			end = headEnd + idx
		}
		blocks = append(blocks, [2]int{start, end})

		if end == len(code) {
			break
		}
		offset = end
	}
	return blocks
}

func wrapCpp(userCode, template string) string {
	userBlock := cppSolutionBlock.FindString(userCode)
	if userBlock == "" {
		return userCode
	}
	if !cppSolutionBlock.MatchString(template) {
		return userCode
	}
	return cppSolutionBlock.ReplaceAllLiteralString(template, userBlock)
}
