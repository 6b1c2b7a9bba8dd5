package ai

import (
	"fmt"
	"strings"

	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
)

const reviewSystemPrompt = `You are an experienced technical recruiter.
Compare the candidate CV with the job description and write a concise review:
strengths, gaps, and concrete suggestions to improve the CV for this role.`

const rubricSystemPrompt = `You design CV scoring rubrics.
Answer with a JSON object of the form
{"sections":[{"name":"<cv section>","weight":<number between 0 and 1>,"criteria":["<criterion>"]}]}.
Weights should add up to 1.`

func reviewPrompt(cvText, jdText string) string {
	var b strings.Builder
	b.WriteString("## Job description\n")
	b.WriteString(strings.TrimSpace(jdText))
	b.WriteString("\n\n## CV\n")
	b.WriteString(strings.TrimSpace(cvText))
	return b.String()
}

func rubricPrompt(input jobs.BuildRubricInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", input.Title)
	if input.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", input.Company)
	}
	if input.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", strings.TrimSpace(input.Description))
	}
	if input.Requirements != "" {
		fmt.Fprintf(&b, "\nRequirements:\n%s\n", strings.TrimSpace(input.Requirements))
	}
	return b.String()
}
