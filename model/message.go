package model

import (
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Message is one raw message as handed over by a mailbox source.
type Message struct {
	ID         string
	Hash       string
	UID        uint32
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
}

// Envelope wraps a message alongside an optional error encountered while reading it.
type Envelope struct {
	Message Message
	Err     error
}

// Fingerprint returns the content hash used to recognise a raw message across runs.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}
