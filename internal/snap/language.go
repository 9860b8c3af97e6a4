package snap

import (
	"path"
	"strings"
)

// languageByExt maps lower-cased file extensions to language names.
var languageByExt = map[string]string{
	".py":    "python",
	".pyi":   "python",
	".go":    "go",
	".js":    "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".scala": "scala",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".md":    "markdown",
	".rst":   "restructuredtext",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".scss":  "scss",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".proto": "protobuf",
	".lua":   "lua",
	".r":     "r",
	".dart":  "dart",
	".ex":    "elixir",
	".exs":   "elixir",
	".erl":   "erlang",
	".hs":    "haskell",
	".ml":    "ocaml",
	".tf":    "terraform",
}

// languageByName covers files identified by their base name.
var languageByName = map[string]string{
	"makefile":       "make",
	"gnumakefile":    "make",
	"dockerfile":     "dockerfile",
	"cmakelists.txt": "cmake",
	"go.mod":         "go-module",
	"build":          "starlark",
	"build.bazel":    "starlark",
}

// DetectLanguage guesses a language from a path. It returns "" when unknown.
func DetectLanguage(p string) string {
	base := strings.ToLower(path.Base(p))
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	return languageByExt[strings.ToLower(path.Ext(base))]
}
