// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
)

// RenderTemplate fills the {placeholder} fields of a campaign template with
// recipient data. Empty fields render as <unknown> rather than leaving the
// placeholder in the outbound text.
func RenderTemplate(template string, r *model.Recipient) string {
	fields := map[string]string{
		"first_name":        r.FirstName,
		"last_name":         r.LastName,
		"location":          r.Location,
		"preferred_product": r.PreferredProduct,
	}

	result := template
	for key, value := range fields {
		if value == "" {
			value = "<unknown>"
		}
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}
