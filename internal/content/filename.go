package content

import "strings"

// UploadName picks the file name used when media is re-uploaded under another
// identity. Platform file names win where the kind carries one.
func UploadName(it Item) string {
	m, _ := MediaOf(it)
	stem := m.UniqueID
	if stem == "" {
		stem = string(it.Kind())
	}
	switch it.(type) {
	case Photo:
		return stem + ".jpg"
	case Video:
		if n := strings.TrimSpace(m.FileName); n != "" {
			return n
		}
		return "video.mp4"
	case Document:
		if n := strings.TrimSpace(m.FileName); n != "" {
			return n
		}
		return "document"
	case Voice:
		return stem + ".ogg"
	case VideoNote:
		return stem + ".mp4"
	default:
		return ""
	}
}
