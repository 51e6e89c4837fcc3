package manager

import (
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// FormatValidationError converts the detailed JSON Schema validation errors
// to a more concise, user-friendly error message
func FormatValidationError(result *jsonschema.EvaluationResult) error {
	list := result.ToList()

	var errorMessages []string

	// Unknown fields (additional properties)
	if errMsg, ok := list.Errors["additionalProperties"]; ok && errMsg != "" {
		fields := extractUnknownFields(errMsg)
		if len(fields) > 0 {
			errorMessages = append(errorMessages,
				fmt.Sprintf("Unrecognized option(s) in settings file: %s",
					strings.Join(fields, ", ")))
		}
	}

	// Missing required fields
	if errMsg, ok := list.Errors["required"]; ok && errMsg != "" {
		errorMessages = append(errorMessages,
			fmt.Sprintf("Missing required option(s): %s", errMsg))
	}

	collectFieldErrors(list, "", &errorMessages)

	if len(errorMessages) == 0 {
		return fmt.Errorf("settings validation failed, use -log-level debug for details")
	}

	return fmt.Errorf("\n - %s", strings.Join(errorMessages, "\n - "))
}

// collectFieldErrors walks the validation detail tree and records per-field
// problems with dotted paths.
func collectFieldErrors(list *jsonschema.List, prefix string, messages *[]string) {
	for _, detail := range list.Details {
		if detail.Valid {
			continue
		}

		fieldName := fieldNameFromPath(detail.InstanceLocation)
		qualified := fieldName
		if prefix != "" && fieldName != "" {
			qualified = prefix + "." + fieldName
		}

		for _, errMsg := range detail.Errors {
			if fieldName == "" || errMsg == "" {
				continue
			}
			message := errMsg
			if strings.Contains(message, "No values are allowed because the schema is set to 'false'") {
				message = "not a valid settings option"
			}
			*messages = append(*messages,
				fmt.Sprintf("Problem with option '%s': %s", qualified, message))
		}

		collectFieldErrors(&detail, qualified, messages)
	}
}

// extractUnknownFields extracts field names from an additionalProperties error message
func extractUnknownFields(errMsg string) []string {
	if !strings.Contains(errMsg, "Additional properties") {
		return nil
	}

	fieldsText := strings.TrimPrefix(errMsg, "Additional properties ")
	fieldsText = strings.TrimSuffix(fieldsText, " do not match the schema")

	var fields []string
	for _, field := range strings.Split(fieldsText, ", ") {
		field = strings.Trim(field, "'")
		if field != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

// fieldNameFromPath extracts a readable field name from a JSON path
func fieldNameFromPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	return segments[len(segments)-1]
}
