package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"signalbridge/internal/event"
)

// buildMessage renders one markdown bundle for the agent: every queued
// (rule, event) pair, the context summary, and a hint on how to push the
// phone if the agent decides the signal warrants it.
func buildMessage(jobs []Job, summary string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Signal digest (%d signal", len(jobs))
	if len(jobs) != 1 {
		b.WriteString("s")
	}
	b.WriteString(")\n")

	for i, j := range jobs {
		fmt.Fprintf(&b, "\n### %d. %s\n", i+1, j.Rule.Name)
		fmt.Fprintf(&b, "- **Event**: %s (%s)\n", j.Event.Type, j.Event.Source)
		fmt.Fprintf(&b, "- **Time**: %s\n", j.Event.Timestamp.Format(time.RFC3339))
		if j.Event.Severity != "" {
			fmt.Fprintf(&b, "- **Severity**: %s\n", j.Event.Severity)
		}
		b.WriteString("\n```json\n")
		b.WriteString(prettyJSON(j.Event.Data))
		b.WriteString("\n```\n")
		fmt.Fprintf(&b, "\n> %s\n", j.Rule.Reaction.PromptContext)
	}

	if summary != "" {
		b.WriteString("\n### Context\n")
		b.WriteString(summary)
	}

	b.WriteString("\n### Request\n")
	b.WriteString("Judge these signals. If a phone notification is warranted, ")
	b.WriteString("call `POST /api/push` with `{\"title\": \"...\", \"body\": \"...\", \"data\": {}}`.\n")

	return b.String()
}

func prettyJSON(data map[string]any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func pushBody(ev event.Event) string {
	b, err := json.Marshal(ev.Data)
	if err != nil || string(b) == "{}" {
		return ev.Type + " from " + ev.Source
	}
	s := string(b)
	if len(s) > 140 {
		s = s[:140]
	}
	return s
}
