package mimesniff

import "strings"

// genericMIMEs are treated as uninformative for validation purposes.
var genericMIMEs = map[string]bool{
	"application/octet-stream": true,
	"application/binary":       true,
	"binary/octet-stream":      true,
}

// mimeAliases maps a declared MIME type to the set of detected MIME
// types it is considered equivalent to (image/jpeg<->image/jpg,
// office types also declared as
// application/octet-stream, etc). Declared-side keys are matched after
// lowercasing and stripping any ";charset=..." parameter.
var mimeAliases = map[string][]string{
	"image/jpeg": {"image/jpg"},
	"image/jpg":  {"image/jpeg"},

	"application/javascript": {"text/javascript"},
	"text/javascript":        {"application/javascript"},

	"application/x-sh":            {"text/x-shellscript"},
	"text/x-shellscript":          {"application/x-sh"},

	"application/msword": {
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	},
	"application/vnd.ms-excel": {
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	},
	"application/vnd.ms-powerpoint": {
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {
		"application/zip", "application/vnd.ms-office",
	},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {
		"application/zip", "application/vnd.ms-office",
	},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {
		"application/zip", "application/vnd.ms-office",
	},
}

// ValidationReason names why Validate passed or failed, for logs and
// the ErrorContext audit trail.
type ValidationReason string

const (
	ReasonGenericOverride ValidationReason = "generic_header_override"
	ReasonExactMatch      ValidationReason = "exact_match"
	ReasonAlias           ValidationReason = "alias_match"
	ReasonMismatch        ValidationReason = "mime_mismatch"
)

// Validate implements the declared-vs-detected validation policy: a
// declared generic type always passes; otherwise exact (case/parameter
// normalized) equality passes; otherwise the alias table is consulted;
// otherwise validation fails with mime_mismatch.
func Validate(detected, declared string) (ok bool, reason ValidationReason) {
	d := stripParameters(declared)
	if genericMIMEs[d] {
		return true, ReasonGenericOverride
	}

	det := stripParameters(detected)
	if d == det {
		return true, ReasonExactMatch
	}

	for _, alias := range mimeAliases[d] {
		if alias == det {
			return true, ReasonAlias
		}
	}

	return false, ReasonMismatch
}

// ExtensionAllowed implements the ALLOWED_EXTENSIONS policy: an empty
// allow-list permits everything; otherwise the extension
// (case-insensitive, including the dot) must appear in it.
func ExtensionAllowed(filename string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(extOf(filename))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimSpace(a)) == ext {
			return true
		}
	}
	return false
}

func extOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}
