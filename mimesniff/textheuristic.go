package mimesniff

// isLikelyText checks null-byte ratio <= 1%, non-whitespace
// control-byte ratio <= 10%, and text/UTF-8-byte ratio >= 90%,
// evaluated over the first 512 bytes of the preview.
func isLikelyText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}

	var nullBytes, controlBytes, textBytes int
	for _, c := range sample {
		switch {
		case c == 0x00:
			nullBytes++
		case c == '\n' || c == '\r' || c == '\t':
			textBytes++
		case c < 0x20 || c == 0x7F:
			controlBytes++
		case c >= 0x20 && c < 0x7F:
			textBytes++
		default:
			// High bytes (>= 0x80) are plausible UTF-8 continuation/lead
			// bytes; count them toward the text ratio like the rest of the
			// printable range.
			textBytes++
		}
	}

	n := float64(len(sample))
	nullRatio := float64(nullBytes) / n
	controlRatio := float64(controlBytes) / n
	textRatio := float64(textBytes) / n

	return nullRatio <= 0.01 && controlRatio <= 0.10 && textRatio >= 0.90
}

// textSubtype picks a text MIME subtype for data believed to be text,
// preferring the filename extension table and defaulting to text/plain.
func textSubtype(filename string) string {
	if mime := ExtensionMIME(filename); mime != "" {
		return mime
	}
	return "text/plain"
}
