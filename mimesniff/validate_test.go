package mimesniff

import "testing"

func TestValidateGenericDeclaredAlwaysOK(t *testing.T) {
	generic := []string{"application/octet-stream", "application/binary", "binary/octet-stream", "APPLICATION/OCTET-STREAM"}
	for _, d := range generic {
		ok, reason := Validate("image/png", d)
		if !ok || reason != ReasonGenericOverride {
			t.Fatalf("Validate(image/png, %q) = (%v, %v), want (true, generic_header_override)", d, ok, reason)
		}
	}
}

func TestValidateExactMatch(t *testing.T) {
	ok, reason := Validate("application/pdf", "application/pdf; charset=binary")
	if !ok || reason != ReasonExactMatch {
		t.Fatalf("Validate exact match with params = (%v, %v)", ok, reason)
	}
}

func TestValidateAliasTable(t *testing.T) {
	ok, reason := Validate("image/jpeg", "image/jpg")
	if !ok || reason != ReasonAlias {
		t.Fatalf("Validate(image/jpeg, image/jpg) = (%v, %v), want (true, alias_match)", ok, reason)
	}
}

func TestValidateMismatch(t *testing.T) {
	ok, reason := Validate("application/x-msdownload", "image/png")
	if ok || reason != ReasonMismatch {
		t.Fatalf("Validate(exe declared as png) = (%v, %v), want (false, mime_mismatch)", ok, reason)
	}
}

func TestExtensionAllowed(t *testing.T) {
	if !ExtensionAllowed("report.pdf", nil) {
		t.Fatalf("empty allow-list should permit everything")
	}
	allowed := []string{".pdf", ".docx"}
	if !ExtensionAllowed("report.PDF", allowed) {
		t.Fatalf("extension match should be case-insensitive")
	}
	if ExtensionAllowed("evil.exe", allowed) {
		t.Fatalf("evil.exe should not be allowed by %v", allowed)
	}
}
