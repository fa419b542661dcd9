package transcription

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/yegors/voxdesk/internal/storage/sqlite"
)

// Every persisted transcript carries the same header block ahead of the
// body: contact, human-readable date, M:SS duration and the derived
// file name.
const transcriptTemplate = `Contact: {{.ContactName}}
Date: {{.Date}}
Duration: {{.Duration}}
File: {{.FileName}}

{{.Body}}`

var transcriptTmpl = template.Must(template.New("transcript").Parse(transcriptTemplate))

// FormatTranscript renders the standard header block followed by the
// transcript body
func FormatTranscript(rec *sqlite.AudioRecording, body string) string {
	var sb strings.Builder
	err := transcriptTmpl.Execute(&sb, map[string]string{
		"ContactName": rec.ContactName,
		"Date":        rec.CapturedAt.Format("January 2, 2006 3:04 PM"),
		"Duration":    FormatDuration(rec.DurationSeconds),
		"FileName":    rec.FileName,
		"Body":        strings.TrimSpace(body),
	})
	if err != nil {
		// The template is static and the data plain strings; execution
		// cannot fail at runtime, but fall back to the bare body anyway
		return body
	}
	return sb.String()
}

// FormatDuration renders a duration in seconds as M:SS
func FormatDuration(seconds float64) string {
	total := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
