package retention

import (
	"time"

	"github.com/docflowhq/docflow/internal/documents/domain"
)

// CalculateExpiryDate adds periodDays to start and truncates to midnight
// UTC, so every document uploaded on a given day expires at the same
// instant regardless of upload time.
func CalculateExpiryDate(periodDays int, start time.Time) time.Time {
	expiry := start.UTC().AddDate(0, 0, periodDays)
	return time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
}

// StartDate resolves the retention clock's starting instant for a document.
// Documents without the trigger date fall back to their creation time so a
// missing invoice date can never exempt a document from retention.
func StartDate(doc *domain.DocumentRecord, trigger DateTrigger) time.Time {
	if trigger == TriggerInvoiceDate {
		if doc.Type == domain.DocTypeStatement {
			if doc.PeriodEndDate != nil && !doc.PeriodEndDate.IsZero() {
				return *doc.PeriodEndDate
			}
		} else if doc.IssueDate != nil && !doc.IssueDate.IsZero() {
			return *doc.IssueDate
		}
	}
	return doc.CreatedAt
}

// Stamp computes and fills RetentionStartDate and RetentionExpiryDate on the
// document. With retention disabled both fields are cleared.
func Stamp(doc *domain.DocumentRecord, policy Policy) {
	if !policy.Enabled() {
		doc.RetentionStartDate = nil
		doc.RetentionExpiryDate = nil
		return
	}
	start := StartDate(doc, policy.DateTrigger)
	expiry := CalculateExpiryDate(*policy.PeriodDays, start)
	doc.RetentionStartDate = &start
	doc.RetentionExpiryDate = &expiry
}

// ShouldDelete reports whether the sweep should remove the document now.
// The expiry boundary is inclusive.
func ShouldDelete(doc *domain.DocumentRecord, policy Policy, now time.Time) bool {
	if !policy.Enabled() {
		return false
	}
	if doc.Status == domain.DocStatusDeleted || doc.RetentionDeletedAt != nil {
		return false
	}
	if doc.RetentionExpiryDate == nil {
		return false
	}
	return !doc.RetentionExpiryDate.After(now)
}
