package engine

import (
	"fmt"
	"strings"

	"archon/internal/domain"
)

// Prompt builders. Each returns the full text handed to a connector;
// the response formats they request are what the parsers expect.

func BuildVisionPrompt(brief string) string {
	var b strings.Builder
	b.WriteString("You are the architect for a new software project.\n")
	b.WriteString("Read the project brief below and establish the vision contract.\n\n")
	b.WriteString("PROJECT BRIEF:\n")
	b.WriteString(brief)
	b.WriteString("\n\nRespond with:\n")
	b.WriteString("Problem statement: <one paragraph>\n")
	b.WriteString("Target users:\n- <bullet list>\n")
	b.WriteString("Core capabilities:\n- <bullet list>\n")
	b.WriteString("Non-goals:\n- <bullet list>\n")
	b.WriteString("Success criteria:\n- <bullet list>\n\n")
	b.WriteString("Then list any clarifying questions, one per line, each ending with a question mark.\n")
	return b.String()
}

func BuildSystemDesignPrompt(visionJSON string) string {
	var b strings.Builder
	b.WriteString("Propose 2-4 candidate system architectures for the vision below.\n\n")
	b.WriteString("VISION CONTRACT:\n")
	b.WriteString(visionJSON)
	b.WriteString("\n\nFormat each candidate as:\n")
	b.WriteString("OPTION [A]: <title>\n<summary paragraph>\n\n")
	b.WriteString("Mark exactly one option with the line: \u2605 RECOMMENDED\n")
	return b.String()
}

func BuildDecompositionPrompt(architecture string, tier int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decompose build tier %d into builder tasks.\n\n", tier)
	b.WriteString("ARCHITECTURE:\n")
	b.WriteString(architecture)
	b.WriteString("\n\nFormat each task as:\n")
	b.WriteString("TASK [1]: \"<task name>\"\n")
	b.WriteString("Type: <state_schema|flow|constraint|failure_recovery|dependency_cascade|ux_layer|general>\n")
	b.WriteString("Subsystem: <subsystem>\n")
	b.WriteString("Objective: <one sentence>\n")
	b.WriteString("Must build: <semicolon-separated paths or components>\n")
	b.WriteString("Must not touch: <semicolon-separated boundaries>\n")
	b.WriteString("Test criteria: <semicolon-separated checks>\n")
	b.WriteString("Depends on: <comma-separated task references (__task_index_N) or none>\n")
	return b.String()
}

func BuildExecutionPrompt(t domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a builder. Execute this task exactly as scoped.\n\n")
	fmt.Fprintf(&b, "TASK: %s (%s)\n", t.Name, t.ID)
	fmt.Fprintf(&b, "Type: %s\n", t.Type)
	if t.Subsystem != "" {
		fmt.Fprintf(&b, "Subsystem: %s\n", t.Subsystem)
	}
	if t.Objective != "" {
		fmt.Fprintf(&b, "Objective: %s\n", t.Objective)
	}
	writeSection(&b, "Inputs", t.Inputs)
	writeSection(&b, "Must build", t.ScopeMustBuild)
	writeSection(&b, "Must NOT touch", t.ScopeMustNotTouch)
	writeSection(&b, "Rules to implement", t.RulesToImplement)
	writeSection(&b, "Constraints to enforce", t.ConstraintsToEnforce)
	writeSection(&b, "Interfaces received", t.InterfacesReceives)
	writeSection(&b, "Interfaces produced", t.InterfacesProduces)
	writeSection(&b, "Test criteria", t.TestCriteria)
	b.WriteString("\nWhen finished, emit your output manifest as a ```json block with keys ")
	b.WriteString("task_id, artifacts, incomplete, questions_for_architect.\n")
	return b.String()
}

func BuildReviewPrompt(t domain.Task, m domain.Manifest) string {
	var b strings.Builder
	b.WriteString("Review this builder output against its task contract.\n\n")
	fmt.Fprintf(&b, "TASK: %s (%s)\n", t.Name, t.ID)
	if t.Objective != "" {
		fmt.Fprintf(&b, "Objective: %s\n", t.Objective)
	}
	writeSection(&b, "Rules to implement", t.RulesToImplement)
	writeSection(&b, "Constraints to enforce", t.ConstraintsToEnforce)
	writeSection(&b, "Test criteria", t.TestCriteria)
	b.WriteString("\nARTIFACTS:\n")
	for _, a := range m.Artifacts {
		fmt.Fprintf(&b, "- %s", a.Path)
		if a.Summary != "" {
			fmt.Fprintf(&b, ": %s", a.Summary)
		}
		b.WriteString("\n")
	}
	writeSection(&b, "Reported incomplete", m.Incomplete)
	b.WriteString("\nRespond with your findings, then a final line:\n")
	b.WriteString("VERDICT: <accept|revise|reject|escalate>\n")
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
