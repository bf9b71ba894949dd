package ai

import (
	"bytes"
	"text/template"
)

// ReplyPrompt asks for reply suggestions and a read on the incoming message.
const ReplyPrompt = `You are a witty digital wingman helping someone answer a message.

CONTEXT:
Name: {{.Name}}
Relationship: {{.Category}}{{if .RoleTitle}}
Role: {{.RoleTitle}}{{end}}{{if .Context}}
Details: {{.Context}}{{end}}

INCOMING MESSAGE: "{{.Message}}"

TASK: Write {{.Count}} distinct, human-sounding replies in a {{.Tone}} tone.{{if .HasImage}}
A screenshot of the conversation is attached; use it for context.{{end}}{{if .Regeneration}}
The previous suggestions were not used. Take a noticeably different angle this time.{{end}}

Also read the subtext of the incoming message: translate what they really mean,
rate how tense or risky the situation is from 0 (harmless) to 100 (hostile),
and give one line of strategy advice.

Respond with ONLY valid JSON:
{
  "replies": ["<reply 1>", "<reply 2>", "<reply 3>"],
  "analysis": {
    "translation": "<what they really mean>",
    "threat_level": <integer 0-100>,
    "strategy_advice": "<one sentence>"
  }
}`

// ReplyData holds data for the reply prompt
type ReplyData struct {
	Name         string
	Category     string
	RoleTitle    string
	Context      string
	Message      string
	Tone         string
	Count        int
	HasImage     bool
	Regeneration bool
}

var replyTemplate = template.Must(template.New("reply").Parse(ReplyPrompt))

// RenderReplyPrompt renders the reply generation prompt
func RenderReplyPrompt(data ReplyData) (string, error) {
	var buf bytes.Buffer
	if err := replyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
