// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

// RenderTemplate substitutes {key} placeholders. Unknown placeholders are
// left as written.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

func recipientData(r *model.Recipient, counterpartTitle string) map[string]string {
	return map[string]string{
		"first_name":        r.FirstName,
		"last_name":         r.LastName,
		"company":           r.Company,
		"category":          r.Category,
		"counterpart_title": counterpartTitle,
	}
}
