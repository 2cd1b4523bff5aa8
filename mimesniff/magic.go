// Package mimesniff detects and validates the MIME type of an uploaded
// file, combining a magic-number table with an external detector and a
// consistency check against the client-declared Content-Type.
//
// The magic table and the declared-vs-detected validation policy are
// grounded in gobeaver-filekit's filevalidator/magic.go and mime.go,
// generalized to an ordered detection pipeline: external detector
// first, then a text-content heuristic, then magic bytes, then
// extension, then application/octet-stream.
package mimesniff

import "bytes"

// Signature is a single magic-number match rule.
type Signature struct {
	MIME   string
	Offset int
	Magic  []byte
}

// signatures is ordered most-specific-first: ZIP-based
// office formats and JAR must be tried before bare ZIP, and the ICO
// check must be strict enough to avoid false positives on the common
// "00 00 01 00" prefix shared with other container formats.
var signatures = []Signature{
	{MIME: "application/pdf", Offset: 0, Magic: []byte("%PDF")},
	{MIME: "application/vnd.ms-office", Offset: 0, Magic: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}},

	// OOXML / JAR are ZIP containers distinguished by inner path; see
	// refineZIPContainer. These entries exist so detectByMagic finds a
	// match at all; refineZIPContainer narrows it afterward.
	{MIME: "application/zip", Offset: 0, Magic: []byte{0x50, 0x4B, 0x03, 0x04}},
	{MIME: "application/zip", Offset: 0, Magic: []byte{0x50, 0x4B, 0x05, 0x06}},
	{MIME: "application/zip", Offset: 0, Magic: []byte{0x50, 0x4B, 0x07, 0x08}},

	{MIME: "image/jpeg", Offset: 0, Magic: []byte{0xFF, 0xD8, 0xFF}},
	{MIME: "image/png", Offset: 0, Magic: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{MIME: "image/gif", Offset: 0, Magic: []byte("GIF87a")},
	{MIME: "image/gif", Offset: 0, Magic: []byte("GIF89a")},
	{MIME: "image/webp", Offset: 8, Magic: []byte("WEBP")},
	{MIME: "image/bmp", Offset: 0, Magic: []byte("BM")},
	{MIME: "image/tiff", Offset: 0, Magic: []byte{0x49, 0x49, 0x2A, 0x00}},
	{MIME: "image/tiff", Offset: 0, Magic: []byte{0x4D, 0x4D, 0x00, 0x2A}},

	{MIME: "application/x-rar-compressed", Offset: 0, Magic: []byte("Rar!\x1a\x07\x00")},
	{MIME: "application/x-rar-compressed", Offset: 0, Magic: []byte("Rar!\x1a\x07\x01\x00")},
	{MIME: "application/gzip", Offset: 0, Magic: []byte{0x1F, 0x8B}},
	{MIME: "application/x-7z-compressed", Offset: 0, Magic: []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}},
	{MIME: "application/x-bzip2", Offset: 0, Magic: []byte("BZh")},
	{MIME: "application/x-xz", Offset: 0, Magic: []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},

	{MIME: "audio/mpeg", Offset: 0, Magic: []byte("ID3")},
	{MIME: "audio/mpeg", Offset: 0, Magic: []byte{0xFF, 0xFB}},
	{MIME: "audio/mpeg", Offset: 0, Magic: []byte{0xFF, 0xFA}},
	{MIME: "audio/mpeg", Offset: 0, Magic: []byte{0xFF, 0xF3}},
	{MIME: "audio/mpeg", Offset: 0, Magic: []byte{0xFF, 0xF2}},
	{MIME: "audio/ogg", Offset: 0, Magic: []byte("OggS")},
	{MIME: "audio/wav", Offset: 0, Magic: []byte("RIFF")},
	{MIME: "audio/flac", Offset: 0, Magic: []byte("fLaC")},
	{MIME: "audio/mp4", Offset: 4, Magic: []byte("ftypM4A")},

	{MIME: "video/webm", Offset: 0, Magic: []byte{0x1A, 0x45, 0xDF, 0xA3}},
	{MIME: "video/mp4", Offset: 4, Magic: []byte("ftyp")},
	{MIME: "video/x-msvideo", Offset: 0, Magic: []byte("RIFF")},
	{MIME: "video/mpeg", Offset: 0, Magic: []byte{0x00, 0x00, 0x01, 0xBA}},
	{MIME: "video/mpeg", Offset: 0, Magic: []byte{0x00, 0x00, 0x01, 0xB3}},

	{MIME: "text/html", Offset: 0, Magic: []byte("<!DOCTYPE html")},
	{MIME: "text/html", Offset: 0, Magic: []byte("<!doctype html")},
	{MIME: "text/html", Offset: 0, Magic: []byte("<html")},
	{MIME: "text/html", Offset: 0, Magic: []byte("<HTML")},
	{MIME: "application/xml", Offset: 0, Magic: []byte("<?xml")},
	{MIME: "application/json", Offset: 0, Magic: []byte("{")},

	{MIME: "application/x-msdownload", Offset: 0, Magic: []byte("MZ")},
	{MIME: "application/x-executable", Offset: 0, Magic: []byte{0x7F, 'E', 'L', 'F'}},
	{MIME: "application/java-archive", Offset: 0, Magic: []byte{0xCA, 0xFE, 0xBA, 0xBE}},
	{MIME: "application/x-mach-binary", Offset: 0, Magic: []byte{0xCF, 0xFA, 0xED, 0xFE}},
	{MIME: "application/x-mach-binary", Offset: 0, Magic: []byte{0xCE, 0xFA, 0xED, 0xFE}},
	{MIME: "application/x-mach-binary", Offset: 0, Magic: []byte{0xFE, 0xED, 0xFA, 0xCE}},

	{MIME: "font/ttf", Offset: 0, Magic: []byte{0x00, 0x01, 0x00, 0x00}},
	{MIME: "font/otf", Offset: 0, Magic: []byte("OTTO")},
	{MIME: "font/woff", Offset: 0, Magic: []byte("wOFF")},
	{MIME: "font/woff2", Offset: 0, Magic: []byte("wOF2")},

	// ICO: a strict secondary-byte check (reserved=0, type=1, count>=1) to
	// avoid false positives against the common "00 00 01 00 ..." prefix.
	{MIME: "image/x-icon", Offset: 0, Magic: []byte{0x00, 0x00, 0x01, 0x00}},
}

// detectByMagic returns the MIME of the first matching signature, or ""
// if none matched. data is expected to be up to 1 KiB.
func detectByMagic(data []byte) string {
	for _, sig := range signatures {
		if sig.Offset+len(sig.Magic) > len(data) {
			continue
		}
		if bytes.Equal(data[sig.Offset:sig.Offset+len(sig.Magic)], sig.Magic) {
			if sig.MIME == "image/x-icon" && !looksLikeICO(data) {
				continue
			}
			return refineDetection(data, sig.MIME)
		}
	}
	return ""
}

// looksLikeICO rejects the "00 00 01 00" prefix unless the header's
// little-endian image count (bytes 4-5) is between 1 and 256, a strict
// check to avoid false positives on that common prefix. Image
// dimensions are not checked.
func looksLikeICO(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	count := int(data[4]) | int(data[5])<<8
	return count >= 1 && count <= 256
}

// refineDetection resolves magic-byte collisions between formats that
// share a container signature.
func refineDetection(data []byte, initial string) string {
	switch initial {
	case "audio/wav", "video/x-msvideo":
		if len(data) >= 12 {
			switch string(data[8:12]) {
			case "WAVE":
				return "audio/wav"
			case "AVI ":
				return "video/x-msvideo"
			case "WEBP":
				return "image/webp"
			}
		}
		return initial
	case "application/zip":
		return refineZIPContainer(data)
	case "video/mp4":
		if len(data) >= 12 {
			switch string(data[8:12]) {
			case "M4A ":
				return "audio/mp4"
			case "qt  ":
				return "video/quicktime"
			}
		}
		return initial
	default:
		return initial
	}
}

// refineZIPContainer distinguishes OOXML office documents and JAR files
// from a bare ZIP archive by scanning for known inner paths:
// word/document.xml, xl/workbook.xml, ppt/presentation.xml, and
// META-INF/MANIFEST.MF.
func refineZIPContainer(data []byte) string {
	content := string(data)
	switch {
	case bytes.Contains([]byte(content), []byte("word/document.xml")):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case bytes.Contains([]byte(content), []byte("xl/workbook.xml")):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case bytes.Contains([]byte(content), []byte("ppt/presentation.xml")):
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case bytes.Contains([]byte(content), []byte("META-INF/MANIFEST.MF")):
		return "application/java-archive"
	default:
		return "application/zip"
	}
}
