package contextset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lingolive/lingolive/pkg/types"
)

// Import field limits. Name and description are stored columns with their own
// caps; the remaining limits mirror the engine limits in merge.go.
const (
	maxNameLength        = 100
	maxDescriptionLength = 500
)

// knownImportFields lists the top-level keys [ImportJSON] understands.
// Anything else produces a warning, not an error, so documents exported by a
// newer version still import.
var knownImportFields = map[string]struct{}{
	"name":              {},
	"description":       {},
	"text":              {},
	"is_public":         {},
	"terms":             {},
	"general":           {},
	"translation_terms": {},
}

// ImportResult is the outcome of validating an externally supplied context
// set document.
type ImportResult struct {
	// Valid is true when no errors were found. Warnings alone do not make a
	// document invalid.
	Valid bool `json:"valid"`

	// Errors lists every constraint violation found, not just the first, so
	// the user can fix the document in one pass.
	Errors []string `json:"errors"`

	// Warnings lists non-fatal observations such as unknown fields.
	Warnings []string `json:"warnings"`

	// Data is the normalised form, populated only when Valid is true. Strings
	// are trimmed where they identify the set and absent arrays are empty.
	Data *FormData `json:"data,omitempty"`
}

// ImportJSON validates raw as a context set document and returns the full
// list of violations together with the normalised [FormData] on success.
// It never panics on malformed input: a syntactically invalid document yields
// a single descriptive error.
func ImportJSON(raw []byte) ImportResult {
	res := ImportResult{Errors: []string{}, Warnings: []string{}}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Distinguish "not an object" from "not JSON at all" for a clearer message.
		var probe any
		if json.Unmarshal(raw, &probe) == nil {
			res.Errors = append(res.Errors, "document must be a JSON object, not an array or primitive value")
		} else {
			res.Errors = append(res.Errors, fmt.Sprintf("invalid JSON syntax: %v", err))
		}
		return res
	}

	data := &FormData{
		Terms:            []string{},
		General:          []types.GeneralPair{},
		TranslationTerms: []types.TranslationTerm{},
	}

	// name: required.
	if rawName, ok := parsed["name"]; !ok {
		res.Errors = append(res.Errors, `field "name" is required and must be a string`)
	} else if err := json.Unmarshal(rawName, &data.Name); err != nil {
		res.Errors = append(res.Errors, `field "name" is required and must be a string`)
	} else if strings.TrimSpace(data.Name) == "" {
		res.Errors = append(res.Errors, `field "name" cannot be empty`)
	} else if len(data.Name) > maxNameLength {
		res.Errors = append(res.Errors, fmt.Sprintf(`field "name" exceeds max length (%d/%d characters)`, len(data.Name), maxNameLength))
	}

	// is_public: required.
	if rawPub, ok := parsed["is_public"]; !ok {
		res.Errors = append(res.Errors, `field "is_public" is required and must be a boolean`)
	} else if err := json.Unmarshal(rawPub, &data.IsPublic); err != nil {
		res.Errors = append(res.Errors, `field "is_public" is required and must be a boolean`)
	}

	// description: optional.
	if rawDesc, ok := parsed["description"]; ok {
		if err := json.Unmarshal(rawDesc, &data.Description); err != nil {
			res.Errors = append(res.Errors, `field "description" must be a string`)
		} else if len(data.Description) > maxDescriptionLength {
			res.Errors = append(res.Errors, fmt.Sprintf(`field "description" exceeds max length (%d/%d characters)`, len(data.Description), maxDescriptionLength))
		}
	}

	// text: optional.
	if rawText, ok := parsed["text"]; ok {
		if err := json.Unmarshal(rawText, &data.Text); err != nil {
			res.Errors = append(res.Errors, `field "text" must be a string`)
		} else if len(data.Text) > MaxTextLength {
			res.Errors = append(res.Errors, fmt.Sprintf(`field "text" exceeds max length (%d/%d characters)`, len(data.Text), MaxTextLength))
		}
	}

	// terms: optional array of strings.
	if rawTerms, ok := parsed["terms"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawTerms, &items); err != nil {
			res.Errors = append(res.Errors, `field "terms" must be an array`)
		} else {
			if len(items) > MaxTerms {
				res.Errors = append(res.Errors, fmt.Sprintf(`field "terms" exceeds max count (%d/%d items)`, len(items), MaxTerms))
			}
			for i, item := range items {
				var term string
				if err := json.Unmarshal(item, &term); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("terms[%d] must be a string", i))
					continue
				}
				if len(term) > MaxTermLength {
					res.Errors = append(res.Errors, fmt.Sprintf("terms[%d] exceeds max length (%d/%d characters)", i, len(term), MaxTermLength))
				}
				data.Terms = append(data.Terms, strings.TrimSpace(term))
			}
		}
	}

	// general: optional array of {key, value}.
	if rawGeneral, ok := parsed["general"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawGeneral, &items); err != nil {
			res.Errors = append(res.Errors, `field "general" must be an array`)
		} else {
			if len(items) > MaxGeneralPairs {
				res.Errors = append(res.Errors, fmt.Sprintf(`field "general" exceeds max count (%d/%d items)`, len(items), MaxGeneralPairs))
			}
			for i, item := range items {
				var pair struct {
					Key   *string `json:"key"`
					Value *string `json:"value"`
				}
				if err := json.Unmarshal(item, &pair); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("general[%d] must be an object", i))
					continue
				}
				ok := true
				if pair.Key == nil {
					res.Errors = append(res.Errors, fmt.Sprintf("general[%d].key must be a string", i))
					ok = false
				} else if len(*pair.Key) > MaxGeneralKeyLen {
					res.Errors = append(res.Errors, fmt.Sprintf("general[%d].key exceeds max length (%d/%d characters)", i, len(*pair.Key), MaxGeneralKeyLen))
				}
				if pair.Value == nil {
					res.Errors = append(res.Errors, fmt.Sprintf("general[%d].value must be a string", i))
					ok = false
				} else if len(*pair.Value) > MaxGeneralValueLen {
					res.Errors = append(res.Errors, fmt.Sprintf("general[%d].value exceeds max length (%d/%d characters)", i, len(*pair.Value), MaxGeneralValueLen))
				}
				if ok {
					data.General = append(data.General, types.GeneralPair{
						Key:   strings.TrimSpace(*pair.Key),
						Value: strings.TrimSpace(*pair.Value),
					})
				}
			}
		}
	}

	// translation_terms: optional array of {source, target}.
	if rawTT, ok := parsed["translation_terms"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawTT, &items); err != nil {
			res.Errors = append(res.Errors, `field "translation_terms" must be an array`)
		} else {
			if len(items) > MaxTranslationTerms {
				res.Errors = append(res.Errors, fmt.Sprintf(`field "translation_terms" exceeds max count (%d/%d items)`, len(items), MaxTranslationTerms))
			}
			for i, item := range items {
				var pair struct {
					Source *string `json:"source"`
					Target *string `json:"target"`
				}
				if err := json.Unmarshal(item, &pair); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("translation_terms[%d] must be an object", i))
					continue
				}
				ok := true
				if pair.Source == nil {
					res.Errors = append(res.Errors, fmt.Sprintf("translation_terms[%d].source must be a string", i))
					ok = false
				}
				if pair.Target == nil {
					res.Errors = append(res.Errors, fmt.Sprintf("translation_terms[%d].target must be a string", i))
					ok = false
				}
				if ok {
					data.TranslationTerms = append(data.TranslationTerms, types.TranslationTerm{
						Source: strings.TrimSpace(*pair.Source),
						Target: strings.TrimSpace(*pair.Target),
					})
				}
			}
		}
	}

	// Unknown top-level fields warn rather than fail so newer exports import.
	unknown := make([]string, 0, len(parsed))
	for key := range parsed {
		if _, ok := knownImportFields[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown field %q will be ignored", key))
	}

	if len(res.Errors) > 0 {
		return res
	}

	data.Name = strings.TrimSpace(data.Name)
	data.Description = strings.TrimSpace(data.Description)
	res.Valid = true
	res.Data = data
	return res
}

// ExportTemplate returns an empty context set document with every known field
// present, used as the starting point for hand-written imports.
func ExportTemplate() FormData {
	return FormData{
		Name:             "My Context Set",
		Description:      "",
		Text:             "",
		IsPublic:         false,
		Terms:            []string{},
		General:          []types.GeneralPair{},
		TranslationTerms: []types.TranslationTerm{},
	}
}
