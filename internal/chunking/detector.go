package chunking

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// LanguageUnknown marks chunks whose language could not be identified.
const LanguageUnknown = "unknown"

const (
	methodTreeSitter = "tree_sitter"
	methodHeuristic  = "heuristic"
)

// Result describes a code detection verdict for one piece of text.
type Result struct {
	IsCode     bool
	Language   string
	Confidence float64
	Method     string
}

// languagePatterns pairs a language with its syntax fingerprints. Kept as a
// slice so detection order is deterministic; earlier languages win ties.
type languagePatterns struct {
	name     string
	patterns []*regexp.Regexp
}

var syntaxPatterns = []languagePatterns{
	{"python", compilePatterns(
		`\bdef\s+\w+\s*\(`,
		`\bclass\s+\w+`,
		`\bimport\s+\w+`,
		`\bfrom\s+\w+\s+import`,
		`@\w+\s*\(`,
	)},
	{"javascript", compilePatterns(
		`\bfunction\s+\w+\s*\(`,
		`\bconst\s+\w+\s*=`,
		`\blet\s+\w+\s*=`,
		`\bvar\s+\w+\s*=`,
		`=>`,
		`\bconsole\.log\(`,
	)},
	{"typescript", compilePatterns(
		`\binterface\s+\w+`,
		`\btype\s+\w+\s*=`,
		`:\s*\w+(\[\])?\s*[=;,)]`,
		`\bas\s+\w+`,
	)},
	{"java", compilePatterns(
		`\bpublic\s+class\s+\w+`,
		`\bprivate\s+\w+`,
		`\bprotected\s+\w+`,
		`\bstatic\s+void\s+main`,
		`\bpackage\s+[\w.]+;`,
	)},
	{"go", compilePatterns(
		`\bfunc\s+\w+\s*\(`,
		`\bpackage\s+\w+`,
		`\btype\s+\w+\s+struct`,
		`:=`,
	)},
	{"rust", compilePatterns(
		`\bfn\s+\w+\s*\(`,
		`\blet\s+mut\s+\w+`,
		`\bimpl\s+\w+`,
		`\bmatch\s+\w+\s*\{`,
	)},
	{"c", compilePatterns(
		`\bint\s+main\s*\(`,
		`#include\s*<[\w.]+>`,
		`\bstruct\s+\w+`,
		`\bvoid\s+\w+\s*\(`,
	)},
	{"cpp", compilePatterns(
		`\bclass\s+\w+`,
		`\btemplate\s*<`,
		`\bnamespace\s+\w+`,
		`std::`,
	)},
	{"php", compilePatterns(
		`<\?php`,
		`\$\w+\s*=`,
		`\bfunction\s+\w+\s*\(`,
	)},
	{"ruby", compilePatterns(
		`\bdef\s+\w+`,
		`\bclass\s+\w+`,
		`\bend\b`,
		`@\w+`,
	)},
	{"sql", compilePatterns(
		`\bSELECT\s+`,
		`\bFROM\s+\w+`,
		`\bWHERE\s+`,
		`\bINSERT\s+INTO`,
		`\bUPDATE\s+\w+\s+SET`,
	)},
	{"shell", compilePatterns(
		`^#!/bin/(bash|sh)`,
		`\$\{?\w+\}?`,
		`\|\s*\w+`,
	)},
}

// codeIndicators are language-agnostic signals used when no specific
// language scores well. Multiline only, case preserved.
var codeIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?m)[{}();]`),
	regexp.MustCompile(`(?m)[\w]+\s*=\s*[\w"']+`),
	regexp.MustCompile(`(?m)\b(if|else|for|while|return)\b`),
	regexp.MustCompile(`(?m)/\*.*?\*/`),
	regexp.MustCompile(`(?m)//.*$`),
}

var symbolPattern = regexp.MustCompile(`[{}()\[\];,.]`)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?mi)`+p))
	}
	return compiled
}

// Detector classifies text pieces as code or prose. It parses candidates
// with tree-sitter grammars when enabled and falls back to syntax pattern
// heuristics for languages without a grammar.
type Detector struct {
	enableTreeSitter bool
}

// NewDetector creates a Detector. With enableTreeSitter false only the
// heuristic pass runs.
func NewDetector(enableTreeSitter bool) *Detector {
	return &Detector{enableTreeSitter: enableTreeSitter}
}

// Detect analyzes text and reports whether it is code, the best language
// guess, and a confidence in [0, 1]. hint is an optional language name,
// usually inferred from a file extension.
func (d *Detector) Detect(ctx context.Context, text, hint string) Result {
	if len(strings.TrimSpace(text)) < 10 {
		return Result{IsCode: false, Language: LanguageUnknown, Confidence: 0}
	}

	if d.enableTreeSitter {
		if result, ok := d.detectTreeSitter(ctx, text, hint); ok {
			return result
		}
	}

	return d.detectHeuristic(text, hint)
}

// detectTreeSitter parses text with candidate grammars and scores each by
// parse quality. A mostly error-free AST is strong evidence of code.
func (d *Detector) detectTreeSitter(ctx context.Context, text, hint string) (Result, bool) {
	var candidates []string
	if lang := strings.ToLower(hint); lang != "" {
		if _, ok := parserLanguages[lang]; ok {
			candidates = []string{lang}
		}
	}
	if len(candidates) == 0 {
		candidates = parserOrder
	}

	source := []byte(text)
	best := Result{Language: LanguageUnknown}

	for _, name := range candidates {
		lang := parserLanguages[name]
		parser := sitter.NewParser()
		parser.SetLanguage(lang)

		tree, err := parser.ParseCtx(ctx, nil, source)
		if err != nil || tree == nil {
			continue
		}

		total, errCount := countNodes(tree.RootNode())
		if total == 0 {
			continue
		}

		confidence := 1.0 - float64(errCount)/float64(total)
		if confidence < 0 {
			confidence = 0
		}
		if errCount == 0 {
			confidence += 0.2
			if confidence > 1.0 {
				confidence = 1.0
			}
		}

		if confidence > best.Confidence {
			best = Result{
				IsCode:     true,
				Language:   name,
				Confidence: confidence,
				Method:     methodTreeSitter,
			}
		}
	}

	if best.Confidence > 0.5 {
		return best, true
	}
	return Result{}, false
}

// countNodes walks the AST counting all nodes and ERROR nodes.
func countNodes(node *sitter.Node) (total, errors int) {
	total = 1
	if node.Type() == "ERROR" {
		errors = 1
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		t, e := countNodes(node.Child(i))
		total += t
		errors += e
	}
	return total, errors
}

// detectHeuristic scores text against per-language syntax patterns, then
// against language-agnostic indicators when no language stands out.
func (d *Detector) detectHeuristic(text, hint string) Result {
	if lang := strings.ToLower(hint); lang != "" {
		if result, ok := checkLanguagePatterns(text, lang); ok {
			return result
		}
	}

	var best Result
	for _, entry := range syntaxPatterns {
		matches := 0
		for _, pattern := range entry.patterns {
			if pattern.MatchString(text) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}

		score := float64(matches) * 0.25
		if score > 1.0 {
			score = 1.0
		}
		if score > best.Confidence {
			best = Result{
				IsCode:     true,
				Language:   entry.name,
				Confidence: score,
				Method:     methodHeuristic,
			}
		}
	}

	if !best.IsCode || best.Confidence < 0.3 {
		if score := generalCodeScore(text); score > 0.3 {
			return Result{
				IsCode:     true,
				Language:   LanguageUnknown,
				Confidence: score,
				Method:     methodHeuristic,
			}
		}
	}

	if best.IsCode {
		return best
	}

	// No pattern matched at all: confidently not code.
	return Result{
		IsCode:     false,
		Language:   LanguageUnknown,
		Confidence: 0.9,
		Method:     methodHeuristic,
	}
}

// checkLanguagePatterns scores text against one language's patterns. Each
// match is worth 0.3 so a hinted language needs fewer signals.
func checkLanguagePatterns(text, language string) (Result, bool) {
	for _, entry := range syntaxPatterns {
		if entry.name != language {
			continue
		}

		matches := 0
		for _, pattern := range entry.patterns {
			if pattern.MatchString(text) {
				matches++
			}
		}
		if matches == 0 {
			return Result{}, false
		}

		confidence := float64(matches) * 0.3
		if confidence > 1.0 {
			confidence = 1.0
		}
		return Result{
			IsCode:     true,
			Language:   language,
			Confidence: confidence,
			Method:     methodHeuristic,
		}, true
	}
	return Result{}, false
}

// generalCodeScore measures language-agnostic code likelihood from symbol
// density, indentation, and common structural tokens.
func generalCodeScore(text string) float64 {
	score := 0.0
	for _, pattern := range codeIndicators {
		if pattern.MatchString(text) {
			score += 0.15
		}
	}

	if len(text) > 0 {
		symbols := len(symbolPattern.FindAllString(text, -1))
		if float64(symbols)/float64(len(text)) > 0.1 {
			score += 0.2
		}
	}

	lines := strings.Split(text, "\n")
	indented := 0
	for _, line := range lines {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			indented++
		}
	}
	if len(lines) > 0 && float64(indented)/float64(len(lines)) > 0.3 {
		score += 0.15
	}

	if score > 1.0 {
		return 1.0
	}
	return score
}
