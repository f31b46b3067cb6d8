package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

func TestWrapWithTemplatePython(t *testing.T) {
	template := "import sys\n\nclass Solution:\n    def solve(self, a, b):\n        raise NotImplementedError\n\n# --- Input/Output Handling ---\na, b = map(int, sys.stdin.read().split())\nprint(Solution().solve(a, b))\n"
	user := "class Solution:\n    def solve(self, a, b):\n        return a + b\n"

	wrapped := WrapWithTemplate("python", user, template)
	require.Equal(t, "import sys\n\n"+user+"\n# --- Input/Output Handling ---\na, b = map(int, sys.stdin.read().split())\nprint(Solution().solve(a, b))\n", wrapped)
}

func TestWrapWithTemplatePythonKeepsUserCodeWithoutSolution(t *testing.T) {
	template := "class Solution:\n    pass\n# --- Input/Output Handling ---\nprint(1)\n"
	user := "print(int(input()) * 2)\n"

	require.Equal(t, user, WrapWithTemplate("python", user, template))
	require.Equal(t, "class Solution:\n    pass\n", WrapWithTemplate("python", "class Solution:\n    pass\n", "print(1)\n"))
}

func TestWrapWithTemplateCppUsesLiteralReplacement(t *testing.T) {
	template := "#include <iostream>\nclass Solution {\npublic:\n    int solve() { return 0; }\n};\nint main() { std::cout << Solution().solve(); }\n"
	user := "class Solution {\npublic:\n    int solve() { return 42 * $1; }\n};"

	wrapped := WrapWithTemplate("cpp", user, template)
	require.Contains(t, wrapped, "return 42 * $1;")
	require.Contains(t, wrapped, "int main()")
	require.NotContains(t, wrapped, "return 0;")
}

func TestWrapWithTemplateIgnoresOtherLanguages(t *testing.T) {
	require.Equal(t, "class Main {}", WrapWithTemplate("java", "class Main {}", "class Solution {};"))
	require.Equal(t, "code", WrapWithTemplate("python", "code", ""))
}

func TestFileTemplateSource(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Junior Round", "sum")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "solution.py"), []byte("template"), 0o644))

	source := FileTemplateSource{Root: root}
	problem := models.Problem{Code: "sum", Contest: &models.Contest{Name: "Junior Round"}}

	python, _ := LookupLanguage("python")
	content, ok := source.Template(problem, python)
	require.True(t, ok)
	require.Equal(t, "template", content)

	cpp, _ := LookupLanguage("cpp")
	_, ok = source.Template(problem, cpp)
	require.False(t, ok)

	java, _ := LookupLanguage("java")
	_, ok = source.Template(problem, java)
	require.False(t, ok)
}

func TestLookupLanguage(t *testing.T) {
	lang, ok := LookupLanguage(" Python ")
	require.True(t, ok)
	require.Equal(t, 71, lang.JudgeID)

	_, ok = LookupLanguage("rust")
	require.False(t, ok)
	require.Equal(t, []string{"c", "cpp", "java", "javascript", "python"}, SupportedLanguages())
}
