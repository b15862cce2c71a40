// Package codec seals and opens secret documents.
//
// A sealed document is a short textual armor wrapping two ciphertexts: a
// random 32-byte file key sealed anonymously to the recipient's public key
// (NaCl box), and the dotenv plaintext sealed under that file key
// (NaCl secretbox, nonce prepended). The recipient identifier rides along
// as cleartext structural metadata so a key mismatch is diagnosed before
// any decryption is attempted, keeping "wrong key" and "tampered
// ciphertext" distinguishable failures.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

// FormatMarker is the first line of every sealed document.
const FormatMarker = "envault/v1"

const (
	fieldRecipient = "recipient"
	fieldWrapped   = "wrapped"
	fieldPayload   = "payload"
)

// Document is a sealed secret document: an opaque ciphertext pair plus the
// non-secret recipient marker it was sealed under.
type Document struct {
	// Recipient is the public identifier the document is sealed to.
	Recipient string

	// Wrapped is the file key sealed to the recipient.
	Wrapped []byte

	// Payload is nonce||secretbox(plaintext, fileKey).
	Payload []byte
}

// Marshal renders the armor form.
func (d *Document) Marshal() []byte {
	var b strings.Builder
	b.WriteString(FormatMarker)
	b.WriteByte('\n')
	b.WriteString(fieldRecipient)
	b.WriteByte(' ')
	b.WriteString(d.Recipient)
	b.WriteByte('\n')
	b.WriteString(fieldWrapped)
	b.WriteByte(' ')
	b.WriteString(base64.StdEncoding.EncodeToString(d.Wrapped))
	b.WriteByte('\n')
	b.WriteString(fieldPayload)
	b.WriteByte(' ')
	b.WriteString(base64.StdEncoding.EncodeToString(d.Payload))
	b.WriteByte('\n')
	return []byte(b.String())
}

// Unmarshal parses the armor form. Structural problems (wrong marker,
// missing fields, bad base64) are ErrInvalidDocument; they are not
// integrity failures because no ciphertext was verified yet.
func Unmarshal(data []byte) (*Document, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 4 {
		return nil, fmt.Errorf("%w: expected 4 lines, got %d", kerrors.ErrInvalidDocument, len(lines))
	}
	if lines[0] != FormatMarker {
		return nil, fmt.Errorf("%w: unknown format marker %q", kerrors.ErrInvalidDocument, lines[0])
	}

	doc := &Document{}
	for _, want := range []struct {
		field string
		line  string
	}{
		{fieldRecipient, lines[1]},
		{fieldWrapped, lines[2]},
		{fieldPayload, lines[3]},
	} {
		name, value, found := strings.Cut(want.line, " ")
		if !found || name != want.field || value == "" {
			return nil, fmt.Errorf("%w: malformed %s line", kerrors.ErrInvalidDocument, want.field)
		}
		switch want.field {
		case fieldRecipient:
			doc.Recipient = value
		case fieldWrapped:
			raw, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return nil, fmt.Errorf("%w: wrapped key is not base64: %v", kerrors.ErrInvalidDocument, err)
			}
			doc.Wrapped = raw
		case fieldPayload:
			raw, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return nil, fmt.Errorf("%w: payload is not base64: %v", kerrors.ErrInvalidDocument, err)
			}
			doc.Payload = raw
		}
	}

	return doc, nil
}
