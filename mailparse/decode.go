package mailparse

import (
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

const replacementChar = "�"

var unfolder = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")

// wordDecoder resolves charsets through go-message and passes the raw bytes
// through when a charset is unknown.
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		r, err := charset.Reader(label, input)
		if err != nil {
			return input, nil
		}
		return r, nil
	},
}

// DecodeHeader turns a raw header value with RFC 2047 encoded-words into plain
// text. Adjacent encoded-words are joined, plain values pass through unfolded and
// malformed words are left as they are.
func DecodeHeader(value string) string {
	if value == "" {
		return ""
	}
	value = unfolder.Replace(value)

	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		decoded = value
	}
	return strings.ToValidUTF8(decoded, replacementChar)
}
