package service

import (
	"strings"
	"unicode"

	"github.com/noah-isme/uni-request-api/internal/models"
)

// categoryRule maps a title predicate to a category.
type categoryRule struct {
	category models.RequestCategory
	match    func(title string) bool
}

func keywordRule(category models.RequestCategory, keywords ...string) categoryRule {
	return categoryRule{
		category: category,
		match: func(title string) bool {
			for _, kw := range keywords {
				if containsWordPrefix(title, kw) {
					return true
				}
			}
			return false
		},
	}
}

// containsWordPrefix reports whether kw occurs at the start of a word in title,
// so "grades" matches "grade" but "upgrade" does not.
func containsWordPrefix(title, kw string) bool {
	for offset := 0; ; {
		i := strings.Index(title[offset:], kw)
		if i < 0 {
			return false
		}
		at := offset + i
		if at == 0 || !unicode.IsLetter(rune(title[at-1])) {
			return true
		}
		offset = at + 1
	}
}

// categoryRules are evaluated in order; the first match wins.
var categoryRules = []categoryRule{
	keywordRule(models.CategoryAcademic, "grade", "exam", "course", "subject", "lecture", "thesis", "transcript", "credit", "syllabus", "professor"),
	keywordRule(models.CategoryFinancial, "payment", "tuition", "fees", "scholarship", "refund", "invoice", "financial", "installment"),
	keywordRule(models.CategoryDisciplinary, "misconduct", "cheating", "plagiarism", "disciplinary", "harassment", "violation", "bullying"),
	keywordRule(models.CategoryTechnical, "login", "password", "portal", "website", "system", "wifi", "network", "technical", "e-mail", "email"),
}

// ClassifyCategory derives a category from a request title, falling back to ADMINISTRATIVE.
func ClassifyCategory(title string) models.RequestCategory {
	normalized := strings.ToLower(title)
	for _, rule := range categoryRules {
		if rule.match(normalized) {
			return rule.category
		}
	}
	return models.CategoryAdministrative
}

// DefaultPriority returns the priority applied when none is supplied.
func DefaultPriority(reqType models.RequestType) models.RequestPriority {
	if reqType == models.RequestTypeComplaint {
		return models.PriorityHigh
	}
	return models.PriorityNormal
}
