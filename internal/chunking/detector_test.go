package chunking

import (
	"context"
	"testing"
)

func TestDetectShortText(t *testing.T) {
	detector := NewDetector(false)

	result := detector.Detect(context.Background(), "hi", "")
	if result.IsCode {
		t.Error("short text should not be code")
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", result.Confidence)
	}
	if result.Language != LanguageUnknown {
		t.Errorf("language = %q, want %q", result.Language, LanguageUnknown)
	}
}

func TestDetectHeuristics(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hint     string
		isCode   bool
		language string
	}{
		{
			name:     "python function",
			input:    "def hello(name):\n    print(name)\n\nimport os\n",
			isCode:   true,
			language: "python",
		},
		{
			name:     "javascript arrow function",
			input:    "const greet = (name) => {\n  console.log(name);\n};\nlet x = 1;\n",
			isCode:   true,
			language: "javascript",
		},
		{
			name:     "go function",
			input:    "package main\n\nfunc run() error {\n\tn := 1\n\treturn nil\n}\n",
			isCode:   true,
			language: "go",
		},
		{
			name:     "sql with hint",
			input:    "SELECT id, name FROM users WHERE active = true",
			hint:     "sql",
			isCode:   true,
			language: "sql",
		},
		{
			name:     "plain prose",
			input:    "The quick brown fox jumps over the lazy dog. It was a sunny day in the park.",
			isCode:   false,
			language: LanguageUnknown,
		},
	}

	detector := NewDetector(false)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := detector.Detect(context.Background(), tt.input, tt.hint)
			if result.IsCode != tt.isCode {
				t.Errorf("IsCode = %v, want %v (confidence %v, language %q)",
					result.IsCode, tt.isCode, result.Confidence, result.Language)
			}
			if result.Language != tt.language {
				t.Errorf("Language = %q, want %q", result.Language, tt.language)
			}
		})
	}
}

func TestDetectProseConfidence(t *testing.T) {
	detector := NewDetector(false)

	result := detector.Detect(context.Background(),
		"The quick brown fox jumps over the lazy dog. It was a sunny day in the park.", "")
	if result.IsCode {
		t.Fatal("prose detected as code")
	}
	if result.Confidence < 0.8 {
		t.Errorf("prose should be rejected with high confidence, got %v", result.Confidence)
	}
}

func TestDetectGeneralIndicators(t *testing.T) {
	detector := NewDetector(false)

	// No language-specific pattern matches, but symbol density and braces
	// push the general score over the acceptance bar.
	result := detector.Detect(context.Background(), "alpha { beta; gamma };\nomega (delta);", "")
	if !result.IsCode {
		t.Fatalf("expected general indicators to flag code, got %+v", result)
	}
	if result.Language != LanguageUnknown {
		t.Errorf("language = %q, want %q", result.Language, LanguageUnknown)
	}
}

func TestDetectTreeSitterGo(t *testing.T) {
	detector := NewDetector(true)

	source := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hello\")\n}\n"
	result := detector.Detect(context.Background(), source, "")
	if !result.IsCode {
		t.Fatalf("valid Go source not detected as code: %+v", result)
	}
	if result.Language != "go" {
		t.Errorf("language = %q, want go", result.Language)
	}
	if result.Confidence <= 0.5 {
		t.Errorf("confidence = %v, want > 0.5", result.Confidence)
	}
}

func TestDetectTreeSitterHint(t *testing.T) {
	detector := NewDetector(true)

	source := "def add(a, b):\n    return a + b\n\n\nclass Calculator:\n    pass\n"
	result := detector.Detect(context.Background(), source, "python")
	if !result.IsCode {
		t.Fatalf("valid Python source not detected as code: %+v", result)
	}
	if result.Language != "python" {
		t.Errorf("language = %q, want python", result.Language)
	}
}

func TestDetectDisabledTreeSitterStillDetects(t *testing.T) {
	detector := NewDetector(false)

	source := "package main\n\nfunc main() {\n\tx := compute()\n}\n"
	result := detector.Detect(context.Background(), source, "")
	if !result.IsCode {
		t.Fatalf("heuristics should detect Go source: %+v", result)
	}
}
