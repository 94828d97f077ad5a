package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/internal/model"
)

func classifyPrompt(email string) string {
	var sb strings.Builder
	sb.WriteString("Classify the intent of the following email:\n\n")
	fmt.Fprintf(&sb, "\"%s\"\n\nChoose one:\n", email)
	for _, intent := range model.Intents {
		sb.WriteString("- ")
		sb.WriteString(string(intent))
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond with only the intent label.")
	return sb.String()
}

func extractPrompt(email string, today time.Time) string {
	return fmt.Sprintf(`Today is %s (%s).
Extract the meeting details from the email below.
Return only a JSON object with exactly these keys:
{"summary": string, "attendee_email": string, "date": "YYYY-MM-DD", "start_time": "HH:MM", "end_time": "HH:MM"}
Resolve relative dates such as "tomorrow" against today's date and use 24-hour times.
If no end time is given, assume the meeting lasts one hour.

Email: "%s"`, today.Format(dateLayout), today.Weekday(), email)
}

func complaintPrompt(email string) string {
	return "The user is upset. Write a professional, apologetic response.\nEmail: " + email
}

func defaultPrompt(email string, intent model.Intent) string {
	return fmt.Sprintf("Write a professional reply. Intent: %s\nEmail: %s", intent, email)
}

// messages 可选 system 消息 + 单条 user 消息
func messages(systemPrompt, prompt string) []llm.Message {
	msgs := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})
}
