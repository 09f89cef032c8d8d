// Package exec is the compile dispatch boundary: it accepts code plus a
// language tag and asynchronously produces an output or a structured error.
// The default implementation runs the code in a locked-down container; the
// hub only depends on the Dispatcher contract.
package exec

import (
	"context"
	"errors"

	"roomsync/internal/models"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

type Result struct {
	Stdout   string
	Stderr   string
	Exit     int
	TimedOut bool
}

type Dispatcher interface {
	Dispatch(ctx context.Context, code string, lang models.Language) (Result, error)
}

// Catalog lists the supported compile targets.
func Catalog() []models.LanguageSpec {
	langs := []models.Language{models.LangJavaScript, models.LangPython, models.LangJava, models.LangCPP}
	out := make([]models.LanguageSpec, 0, len(langs))
	for _, l := range langs {
		spec, _, _, _, err := langSpec(l)
		if err != nil {
			continue
		}
		out = append(out, spec)
	}
	return out
}

func langSpec(lang models.Language) (models.LanguageSpec, string, string, [][]string, error) {
	switch lang {
	case models.LangJavaScript:
		return models.LanguageSpec{
				Name:            lang,
				FileName:        "main.js",
				ExecCmd:         []string{"node", "main.js"},
				DefaultTabSize:  2,
				ExampleTemplate: "console.log(\"Hello from JavaScript!\");\n",
			},
			"node:20-slim",
			"main.js",
			[][]string{{"node", "main.js"}},
			nil

	case models.LangPython:
		return models.LanguageSpec{
				Name:            lang,
				FileName:        "main.py",
				ExecCmd:         []string{"python3", "main.py"},
				DefaultTabSize:  4,
				ExampleTemplate: "print(\"Hello from Python!\")\n",
			},
			"python:3.11-slim",
			"main.py",
			[][]string{{"python3", "main.py"}},
			nil

	case models.LangJava:
		return models.LanguageSpec{
				Name:            lang,
				FileName:        "Main.java",
				CompileCmd:      []string{"javac", "Main.java"},
				ExecCmd:         []string{"/bin/sh", "-c", "java Main"},
				DefaultTabSize:  4,
				ExampleTemplate: "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello from Java!\");\n    }\n}\n",
			},
			"eclipse-temurin:17-jdk",
			"Main.java",
			[][]string{{"javac", "Main.java"}, {"/bin/sh", "-c", "java Main"}},
			nil

	case models.LangCPP:
		return models.LanguageSpec{
				Name:            lang,
				FileName:        "main.cpp",
				CompileCmd:      []string{"g++", "-O2", "-std=c++17", "main.cpp", "-o", "main"},
				ExecCmd:         []string{"./main"},
				DefaultTabSize:  2,
				ExampleTemplate: "#include <iostream>\n\nint main() {\n    std::cout << \"Hello from C++!\" << std::endl;\n    return 0;\n}\n",
			},
			"gcc:13",
			"main.cpp",
			[][]string{{"g++", "-O2", "-std=c++17", "main.cpp", "-o", "main"}, {"./main"}},
			nil

	default:
		return models.LanguageSpec{}, "", "", nil, ErrUnsupportedLanguage
	}
}
