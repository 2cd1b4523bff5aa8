package mimesniff

import (
	"bytes"
	"testing"
)

func TestDetectByMagic(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.4 rest of file"), "application/pdf"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, "image/jpeg"},
		{"gif87", []byte("GIF87a...."), "image/gif"},
		{"zip", append([]byte{0x50, 0x4B, 0x03, 0x04}, bytes.Repeat([]byte{0}, 30)...), "application/zip"},
		{"gzip", []byte{0x1F, 0x8B, 0x08, 0x00}, "application/gzip"},
		{"elf", []byte{0x7F, 'E', 'L', 'F', 1, 1, 1}, "application/x-executable"},
		{"exe", []byte("MZ\x90\x00\x03\x00\x00\x00"), "application/x-msdownload"},
		{"java class", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 52}, "application/java-archive"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 1, 2}, "video/webm"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectByMagic(tc.data); got != tc.want {
				t.Fatalf("detectByMagic(%s) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestDetectByMagicPrefersOfficeOverBareZIP(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x50, 0x4B, 0x03, 0x04})
	buf.WriteString("junk header bytes then the inner path word/document.xml appears in this early region")

	got := detectByMagic(buf.Bytes())
	want := "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	if got != want {
		t.Fatalf("detectByMagic(docx-like zip) = %q, want %q", got, want)
	}
}

func TestICOStrictSecondaryByteCheck(t *testing.T) {
	// "00 00 01 00" alone, with an implausible image count, must not be
	// misdetected as ICO.
	notICO := []byte{0x00, 0x00, 0x01, 0x00, 0xFF, 0xFF}
	if got := detectByMagic(notICO); got == "image/x-icon" {
		t.Fatalf("detectByMagic misclassified implausible header as ICO")
	}

	validICO := []byte{0x00, 0x00, 0x01, 0x00, 0x02, 0x00}
	if got := detectByMagic(validICO); got != "image/x-icon" {
		t.Fatalf("detectByMagic(valid ICO header) = %q, want image/x-icon", got)
	}
}

func TestSniffDeterminism(t *testing.T) {
	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	r1 := Sniff(data, "photo.png", false)
	r2 := Sniff(data, "photo.png", false)
	if r1.MIME != r2.MIME {
		t.Fatalf("Sniff is not deterministic absent external command: %q vs %q", r1.MIME, r2.MIME)
	}
}

func TestSniffFallsBackToOctetStream(t *testing.T) {
	got := Sniff([]byte{0x01, 0x02, 0x03, 0x04}, "mystery.bin", false)
	if got.MIME != "application/octet-stream" || got.Method != MethodFallback {
		t.Fatalf("Sniff(unrecognized) = %+v, want octet-stream fallback", got)
	}
}

func TestSniffTextHeuristic(t *testing.T) {
	text := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 10)
	got := Sniff(text, "notes.md", false)
	if got.MIME != "text/markdown" || got.Method != MethodText {
		t.Fatalf("Sniff(plain text, notes.md) = %+v, want text/markdown via text heuristic", got)
	}
}

func TestStdlibFallbackAgreesOnCommonCases(t *testing.T) {
	data := []byte("<html><body>hi</body></html>")
	if got := stdlibFallback(data); got == "" {
		t.Fatalf("stdlibFallback returned empty for html content")
	}
}
