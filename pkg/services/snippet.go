package services

import (
	"strconv"
	"strings"

	"github.com/octorules/engine/pkg/models"
)

// languageByExtension maps file extensions to language names for snippet
// tagging.
var languageByExtension = map[string]string{
	"py":         "python",
	"js":         "javascript",
	"ts":         "typescript",
	"tsx":        "typescript",
	"java":       "java",
	"cpp":        "cpp",
	"c":          "c",
	"h":          "c",
	"cs":         "c#",
	"go":         "go",
	"rs":         "rust",
	"php":        "php",
	"rb":         "ruby",
	"swift":      "swift",
	"kt":         "kotlin",
	"scala":      "scala",
	"html":       "html",
	"css":        "css",
	"scss":       "scss",
	"sql":        "sql",
	"sh":         "shell",
	"bash":       "bash",
	"ps1":        "powershell",
	"lua":        "lua",
	"r":          "r",
	"jl":         "julia",
	"dockerfile": "dockerfile",
	"yaml":       "yaml",
	"yml":        "yaml",
	"json":       "json",
	"xml":        "xml",
	"md":         "markdown",
	"txt":        "plaintext",
}

// detectLanguage guesses the language of a file from its extension.
// Returns nil when the extension is unknown.
func detectLanguage(filePath string) *string {
	idx := strings.LastIndexByte(filePath, '.')
	if idx < 0 || idx == len(filePath)-1 {
		return nil
	}
	ext := strings.ToLower(filePath[idx+1:])
	if lang, ok := languageByExtension[ext]; ok {
		return &lang
	}
	return nil
}

// ExtractSnippets parses a unified diff hunk and returns the added lines
// grouped into contiguous snippets. Line numbers refer to the new file:
// context lines advance the counter, removed lines do not.
func ExtractSnippets(filePath, diffHunk string) []models.CodeSnippet {
	if diffHunk == "" {
		return nil
	}

	type addedLine struct {
		num  int
		text string
	}

	var added []addedLine
	lineNum := 0
	inHunk := false

	for _, line := range strings.Split(diffHunk, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			if start, ok := parseHunkStart(line); ok {
				lineNum = start
				inHunk = true
			} else {
				inHunk = false
			}
		case !inHunk:
			// Skip anything before a valid hunk header.
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added = append(added, addedLine{num: lineNum, text: line[1:]})
			lineNum++
		case strings.HasPrefix(line, "-"):
			// Removed line, not present in the new file.
		default:
			// Context line.
			lineNum++
		}
	}

	if len(added) == 0 {
		return nil
	}

	language := detectLanguage(filePath)

	var snippets []models.CodeSnippet
	var group []addedLine

	flush := func() {
		if len(group) == 0 {
			return
		}
		lines := make([]string, len(group))
		for i, l := range group {
			lines[i] = l.text
		}
		snippets = append(snippets, models.CodeSnippet{
			FilePath:  filePath,
			LineStart: group[0].num,
			LineEnd:   group[len(group)-1].num,
			Content:   strings.Join(lines, "\n"),
			Language:  language,
		})
		group = group[:0]
	}

	for _, l := range added {
		if len(group) > 0 && l.num != group[len(group)-1].num+1 {
			flush()
		}
		group = append(group, l)
	}
	flush()

	return snippets
}

// parseHunkStart extracts the new-file start line from a hunk header such as
// "@@ -50,6 +52,8 @@".
func parseHunkStart(header string) (int, bool) {
	for _, part := range strings.Fields(header) {
		if !strings.HasPrefix(part, "+") {
			continue
		}
		numStr := part[1:]
		if comma := strings.IndexByte(numStr, ','); comma >= 0 {
			numStr = numStr[:comma]
		}
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
