package service

import (
	"bytes"
	"fmt"
	"html/template"

	documents "github.com/docflowhq/docflow/internal/documents/domain"
	"github.com/docflowhq/docflow/internal/notification/domain"
)

var deletionNoticeTmpl = template.Must(template.New("retention_deletion_notice").Parse(`
<p>The following documents reached the end of their retention period and have been removed:</p>
<ul>
{{range .Documents}}<li>{{.Type}} {{.DocumentNumber}}{{if .IssueDate}} dated {{.IssueDate.Format "2 January 2006"}}{{end}}</li>
{{end}}</ul>
<p>This removal is permanent. If you need copies of these documents, contact support.</p>
`))

var importConfirmationTmpl = template.Must(template.New("import_confirmation").Parse(`
<p>Your document has been imported.</p>
<p>{{.Type}} <strong>{{.DocumentNumber}}</strong>{{if .IssueDate}} dated {{.IssueDate.Format "2 January 2006"}}{{end}} is now available.</p>
`))

// ComposeDeletionNotice renders the retention removal email for one
// company's batch of deleted documents.
func ComposeDeletionNotice(to []string, docs []documents.DocumentRecord) (domain.Message, error) {
	var body bytes.Buffer
	err := deletionNoticeTmpl.Execute(&body, map[string]any{"Documents": docs})
	if err != nil {
		return domain.Message{}, fmt.Errorf("render deletion notice: %w", err)
	}

	subject := fmt.Sprintf("%d document(s) removed under your retention policy", len(docs))
	if len(docs) == 1 {
		subject = fmt.Sprintf("Document %s removed under your retention policy", docs[0].DocumentNumber)
	}
	return domain.Message{
		To:       to,
		Subject:  subject,
		HTMLBody: body.String(),
		Template: "retention_deletion_notice",
	}, nil
}

// ComposeImportConfirmation renders the post-import confirmation email.
func ComposeImportConfirmation(to []string, doc documents.DocumentRecord) (domain.Message, error) {
	var body bytes.Buffer
	if err := importConfirmationTmpl.Execute(&body, doc); err != nil {
		return domain.Message{}, fmt.Errorf("render import confirmation: %w", err)
	}
	return domain.Message{
		To:       to,
		Subject:  fmt.Sprintf("Document %s imported", doc.DocumentNumber),
		HTMLBody: body.String(),
		Template: "import_confirmation",
	}, nil
}
