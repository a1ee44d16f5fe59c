package msgpak

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"unicode"

	"github.com/natefinch/atomic"

	"github.com/mosaicnetworks/sitesync/src/ism"
)

const (
	// MessagesSection is the name of the entry holding every message.
	MessagesSection = "InterSiteMessage"
	// GrantSection is the name of the optional bootstrap grant entry.
	GrantSection = "SiteGrantISM"

	messagesHeader = `<?xml version="1.0" encoding="UTF-8"?><messages>`
	messagesFooter = `</messages>`
)

// ErrMissingSection is matched by every SectionError.
var ErrMissingSection = errors.New("missing section")

// ErrNotAFragment is returned by Write for a message that would not decode
// back as exactly itself: several messages in one string, or nested message
// elements.
var ErrNotAFragment = errors.New("not a single message element")

// SectionError reports a bundle entry that could not be found.
type SectionError struct {
	Section string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("msgpak: %s: %v", e.Section, ErrMissingSection)
}

// Is ...
func (e *SectionError) Is(target error) bool {
	return target == ErrMissingSection
}

// Write writes a bundle holding messages and, if grant is not nil, the
// bootstrap grant. Each message is stripped of its XML header before being
// wrapped in the messages document.
func Write(w io.Writer, messages []string, grant *string) error {
	zw := zip.NewWriter(w)

	ew, err := zw.Create(MessagesSection)
	if err != nil {
		zw.Close()
		return err
	}

	if _, err := io.WriteString(ew, messagesHeader); err != nil {
		zw.Close()
		return err
	}
	for i, m := range messages {
		frag, err := fragment(m)
		if err != nil {
			zw.Close()
			return fmt.Errorf("msgpak: message %d: %w", i, err)
		}
		if _, err := io.WriteString(ew, frag); err != nil {
			zw.Close()
			return err
		}
	}
	if _, err := io.WriteString(ew, messagesFooter); err != nil {
		zw.Close()
		return err
	}

	if grant != nil {
		gw, err := zw.Create(GrantSection)
		if err != nil {
			zw.Close()
			return err
		}
		if _, err := io.WriteString(gw, *grant); err != nil {
			zw.Close()
			return err
		}
	}

	return zw.Close()
}

// Encode returns the bundle as bytes.
func Encode(messages []string, grant *string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, messages, grant); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the bundle to path. The file is replaced atomically, a
// failed write leaves any previous bundle in place.
func WriteFile(path string, messages []string, grant *string) error {
	b, err := Encode(messages, grant)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(b))
}

// DecodeMessages returns the message fragments of a bundle, in order. A
// bundle with no messages yields an empty slice.
func DecodeMessages(b []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("msgpak: %w", err)
	}
	return messages(zr.File)
}

// ReadMessagesFile is DecodeMessages reading from a file.
func ReadMessagesFile(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("msgpak: %w", err)
	}
	defer zr.Close()
	return messages(zr.File)
}

// DecodeBootstrapGrant returns the grant of a bundle, or an error matching
// ErrMissingSection if it carries none.
func DecodeBootstrapGrant(b []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("msgpak: %w", err)
	}
	return grant(zr.File)
}

// ReadGrantFile is DecodeBootstrapGrant reading from a file.
func ReadGrantFile(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("msgpak: %w", err)
	}
	defer zr.Close()
	return grant(zr.File)
}

// DecodeAllMessages decodes and parses every message of a bundle.
func DecodeAllMessages(b []byte) ([]ism.Message, error) {
	frags, err := DecodeMessages(b)
	if err != nil {
		return nil, err
	}
	return ism.ParseAll(frags)
}

// DecodeGrantMessage decodes and parses the grant of a bundle.
func DecodeGrantMessage(b []byte) (ism.Message, error) {
	g, err := DecodeBootstrapGrant(b)
	if err != nil {
		return ism.Message{}, err
	}
	return ism.Parse(g)
}

// fragment strips the header of m and checks that DecodeMessages will find
// it again, whole.
func fragment(m string) (string, error) {
	frag, err := ism.DropHeader(m, ism.Element)
	if err != nil {
		return "", err
	}
	frag = strings.TrimRightFunc(frag, unicode.IsSpace)

	found := ism.ExtractFragments(frag, ism.Element)
	if len(found) != 1 || found[0] != frag {
		return "", ErrNotAFragment
	}
	return frag, nil
}

func messages(files []*zip.File) ([]string, error) {
	content, err := section(files, MessagesSection)
	if err != nil {
		return nil, err
	}
	frags := ism.ExtractFragments(content, ism.Element)
	if frags == nil {
		frags = []string{}
	}
	return frags, nil
}

func grant(files []*zip.File) (string, error) {
	return section(files, GrantSection)
}

func section(files []*zip.File, name string) (string, error) {
	for _, f := range files {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("msgpak: %s: %w", name, err)
		}
		defer rc.Close()
		b, err := ioutil.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("msgpak: %s: %w", name, err)
		}
		return string(b), nil
	}
	return "", &SectionError{Section: name}
}
