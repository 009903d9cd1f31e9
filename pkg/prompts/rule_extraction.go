// Package prompts builds the LLM prompts used for rule extraction.
package prompts

import (
	"fmt"
	"strings"
)

// ExtractionSystemMessage primes the model for rule extraction.
const ExtractionSystemMessage = "You are an expert software engineer specializing in code quality and best practices. " +
	"You extract specific, actionable coding rules from code review comments and respond only with JSON."

// CommentContext carries everything the extraction prompt needs about one
// review comment.
type CommentContext struct {
	RepositoryName string
	PRTitle        string
	FilePath       string
	Line           int
	CommentText    string
	CodeSnippets   []string
	ThreadComments []string
}

// BuildRuleExtractionPrompt creates the prompt asking the model to derive a
// coding rule from a review comment. The prompt is deterministic for a given
// context, which makes response caching effective.
func BuildRuleExtractionPrompt(cc CommentContext) string {
	var prompt strings.Builder

	prompt.WriteString("Extract a specific coding rule or guideline from the following GitHub pull request review comment.\n\n")

	prompt.WriteString("## Context\n\n")
	prompt.WriteString(fmt.Sprintf("- Repository: %s\n", cc.RepositoryName))
	prompt.WriteString(fmt.Sprintf("- Pull Request: %s\n", cc.PRTitle))
	prompt.WriteString(fmt.Sprintf("- File: %s\n", cc.FilePath))
	if cc.Line > 0 {
		prompt.WriteString(fmt.Sprintf("- Line: %d\n", cc.Line))
	}
	prompt.WriteString("\n## Comment\n\n")
	prompt.WriteString(fmt.Sprintf("%q\n", cc.CommentText))

	if len(cc.CodeSnippets) > 0 {
		prompt.WriteString("\n## Code Under Review\n\n")
		for _, snippet := range cc.CodeSnippets {
			prompt.WriteString("```\n")
			prompt.WriteString(snippet)
			if !strings.HasSuffix(snippet, "\n") {
				prompt.WriteString("\n")
			}
			prompt.WriteString("```\n")
		}
	}

	if len(cc.ThreadComments) > 0 {
		prompt.WriteString("\n## Discussion Thread\n\n")
		for _, reply := range cc.ThreadComments {
			prompt.WriteString(fmt.Sprintf("- %q\n", reply))
		}
	}

	prompt.WriteString("\n## Requirements\n\n")
	prompt.WriteString("The rule must be:\n")
	prompt.WriteString("1. Specific and actionable\n")
	prompt.WriteString("2. Focused on code quality and best practices\n")
	prompt.WriteString("3. Applicable to similar situations in the future\n")
	prompt.WriteString("4. Written in clear, imperative language\n\n")

	writeResponseFormat(&prompt)

	return prompt.String()
}

// BuildReformulationPrompt creates a stricter follow-up prompt used after the
// first response failed to parse.
func BuildReformulationPrompt(cc CommentContext) string {
	var prompt strings.Builder

	prompt.WriteString("Your previous answer was not valid JSON. Try again.\n\n")
	prompt.WriteString("Extract a coding rule from this review comment. ")
	prompt.WriteString("Respond with ONLY a JSON object, no prose, no markdown fences.\n\n")
	prompt.WriteString(fmt.Sprintf("File: %s\n", cc.FilePath))
	prompt.WriteString(fmt.Sprintf("Comment: %q\n\n", cc.CommentText))

	writeResponseFormat(&prompt)

	return prompt.String()
}

func writeResponseFormat(prompt *strings.Builder) {
	prompt.WriteString("Respond with a JSON object of this exact structure:\n")
	prompt.WriteString(`{
    "rule_text": "The extracted rule in clear, imperative language",
    "rule_category": "one of: naming, style, performance, security, best_practices, error_handling, testing, documentation, architecture, readability, maintainability, reliability, general",
    "rule_severity": "one of: critical, high, medium, low, info",
    "explanation": "Brief explanation of why this rule matters",
    "examples": ["Example of good code", "Example of bad code"],
    "related_concepts": ["Related programming concepts or patterns"]
}
`)
	prompt.WriteString("\nIf no specific coding rule can be extracted from the comment, respond with null.\n")
}
