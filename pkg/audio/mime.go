package audio

import (
	"bytes"
	"net/http"
	"strings"
)

// Canonical MIME types for the recitation formats tilawa accepts.
const (
	MIMEWAV  = "audio/wav"
	MIMEMP3  = "audio/mpeg"
	MIMEOGG  = "audio/ogg"
	MIMEWebM = "audio/webm"
	MIMEMP4  = "audio/mp4"
	MIMEFLAC = "audio/flac"
)

// DetectMIMEType sniffs the container format of data. It returns
// "application/octet-stream" when the format is not recognised.
func DetectMIMEType(data []byte) string {
	switch {
	case IsWAV(data):
		return MIMEWAV
	case bytes.HasPrefix(data, []byte("fLaC")):
		return MIMEFLAC
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return MIMEMP4
	}

	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch ct {
	case "audio/mpeg":
		return MIMEMP3
	case "application/ogg":
		return MIMEOGG
	case "video/webm":
		return MIMEWebM
	case "audio/wave":
		return MIMEWAV
	}
	return ct
}

// CanonicalMIMEType maps common aliases (audio/x-wav, audio/mp3, ...) onto the
// constants above and strips parameters. Unknown types are returned
// lower-cased and otherwise unchanged.
func CanonicalMIMEType(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return MIMEWAV
	case "audio/mp3", "audio/mpeg3", "audio/x-mpeg":
		return MIMEMP3
	case "audio/x-m4a", "audio/m4a", "audio/aac", "video/mp4":
		return MIMEMP4
	case "application/ogg", "audio/opus":
		return MIMEOGG
	case "video/webm":
		return MIMEWebM
	case "audio/x-flac":
		return MIMEFLAC
	}
	return mime
}

// Extension returns a file extension (with dot) for a MIME type, used when a
// backend infers the format from an upload's filename.
func Extension(mime string) string {
	switch CanonicalMIMEType(mime) {
	case MIMEWAV:
		return ".wav"
	case MIMEMP3:
		return ".mp3"
	case MIMEOGG:
		return ".ogg"
	case MIMEWebM:
		return ".webm"
	case MIMEMP4:
		return ".m4a"
	case MIMEFLAC:
		return ".flac"
	}
	return ".bin"
}
