package transcription

import (
	"path/filepath"
	"strings"
)

// audioMimeTypes maps the audio file extensions the service accepts to
// their MIME types as the endpoint expects them.
var audioMimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// MimeTypeForFile resolves the audio MIME type for a filename by its
// extension. The second return value reports whether the extension is a
// supported audio format.
func MimeTypeForFile(name string) (string, bool) {
	mimeType, ok := audioMimeTypes[strings.ToLower(filepath.Ext(name))]
	return mimeType, ok
}
