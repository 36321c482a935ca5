package domain

import "encoding/base64"

// FetchedImage holds raw bytes as downloaded, before content validation.
type FetchedImage struct {
	Bytes     []byte
	SourceURL string
}

// ValidatedImage holds bytes whose leading content matched an allowed image
// format. MIMEType is the sniffed type, never a server-declared one.
type ValidatedImage struct {
	Bytes    []byte
	MIMEType string
}

// DataURI returns the image as a base64 data URI suitable for an SVG href.
func (v ValidatedImage) DataURI() string {
	enc := base64.StdEncoding
	buf := make([]byte, 0, len("data:;base64,")+len(v.MIMEType)+enc.EncodedLen(len(v.Bytes)))
	buf = append(buf, "data:"...)
	buf = append(buf, v.MIMEType...)
	buf = append(buf, ";base64,"...)
	buf = enc.AppendEncode(buf, v.Bytes)
	return string(buf)
}
