package chunking

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// parserLanguages maps language names to their tree-sitter grammars. Only
// these languages get AST-based detection; everything else falls back to
// pattern heuristics.
var parserLanguages = map[string]*sitter.Language{
	"go":         golang.GetLanguage(),
	"javascript": javascript.GetLanguage(),
	"typescript": typescript.GetLanguage(),
	"python":     python.GetLanguage(),
}

// parserOrder fixes the candidate iteration order so tie scores resolve
// deterministically.
var parserOrder = []string{"python", "javascript", "typescript", "go"}

// extensionLanguages maps file extensions to language names for hint
// lookup. Broader than parserLanguages: hints for unparsed languages still
// steer the heuristic pass.
var extensionLanguages = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".go":    "go",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".php":   "php",
	".rb":    "ruby",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".md":    "markdown",
}

// TreeSitterLanguage returns the grammar registered for a language name.
func TreeSitterLanguage(name string) (*sitter.Language, bool) {
	lang, ok := parserLanguages[strings.ToLower(name)]
	return lang, ok
}

// LanguageHintFromPath infers a language name from a path or URL extension.
// Returns "" when the extension is unknown or missing.
func LanguageHintFromPath(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return extensionLanguages[strings.ToLower(path[idx:])]
}
