package worker

import (
	"fmt"
	"html"

	"github.com/finflow/alertpipe/pkg/alert"
	"github.com/finflow/alertpipe/pkg/mailer"
)

// renderEmail builds the outbound message for an alert job. Content is
// intentionally minimal; richer template rendering lives outside the
// pipeline.
func renderEmail(job *alert.Job, to string) mailer.Message {
	title := html.EscapeString(job.Title)
	body := html.EscapeString(job.Message)

	htmlBody := fmt.Sprintf("<h2>%s</h2><p>%s</p>", title, body)
	if job.ActionURL != "" {
		htmlBody += fmt.Sprintf(`<p><a href="%s">View details</a></p>`, html.EscapeString(job.ActionURL))
	}

	return mailer.Message{
		To:       to,
		Subject:  job.Title,
		BodyHTML: htmlBody,
		Tag:      "alert-" + string(job.Category),
	}
}
