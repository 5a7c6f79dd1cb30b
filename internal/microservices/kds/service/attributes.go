package service

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"coffee-kds/internal/microservices/kds/models"
)

type AttributesKind int

const (
	AttributesAbsent AttributesKind = iota
	AttributesParsed
	AttributesMalformed
)

func (k AttributesKind) String() string {
	switch k {
	case AttributesParsed:
		return "parsed"
	case AttributesMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Attributes is the outcome of parsing a ticket line attribute blob.
// Modifiers is non-nil only for AttributesParsed; Err only for AttributesMalformed.
type Attributes struct {
	Kind      AttributesKind
	Modifiers models.Modifiers
	Err       error
}

var errNoRoot = errors.New("no root element")

// ParseAttributes flattens a POS attribute blob into modifiers. The POS writes
// Java properties XML (<entry key="size">Large</entry>); any other XML is read
// as one modifier per child element of the root. A blob starting with '{' is
// read as a flat JSON object. Empty input, or a document without children, is
// AttributesAbsent.
func ParseAttributes(blob []byte) Attributes {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return Attributes{Kind: AttributesAbsent}
	}

	var (
		mods models.Modifiers
		err  error
	)
	if trimmed[0] == '{' {
		mods, err = parseJSONAttributes(trimmed)
	} else {
		mods, err = parseXMLAttributes(trimmed)
	}
	if err != nil {
		return Attributes{Kind: AttributesMalformed, Err: err}
	}
	if len(mods) == 0 {
		return Attributes{Kind: AttributesAbsent}
	}
	return Attributes{Kind: AttributesParsed, Modifiers: mods}
}

type xmlEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func parseXMLAttributes(blob []byte) (models.Modifiers, error) {
	dec := xml.NewDecoder(bytes.NewReader(blob))

	// prolog: <?xml?>, <!DOCTYPE>, comments, whitespace
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, errNoRoot
		}
		if err != nil {
			return nil, err
		}
		if _, ok := tok.(xml.StartElement); ok {
			break
		}
		if cd, ok := tok.(xml.CharData); ok && len(bytes.TrimSpace(cd)) > 0 {
			return nil, fmt.Errorf("text before root element")
		}
	}

	mods := models.Modifiers{}
	for {
		tok, err := dec.Token()
		if err != nil {
			// EOF here means the root was never closed.
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var e xmlEntry
			if err := dec.DecodeElement(&e, &t); err != nil {
				return nil, err
			}
			key := t.Name.Local
			if e.Key != "" {
				key = e.Key
			}
			mods[key] = strings.TrimSpace(e.Value)
		case xml.EndElement:
			return mods, trailingXML(dec)
		}
	}
}

func trailingXML(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fmt.Errorf("extra content after root element")
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf("extra content after root element")
			}
		}
	}
}

func parseJSONAttributes(blob []byte) (models.Modifiers, error) {
	var raw map[string]any
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, err
	}
	mods := make(models.Modifiers, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			mods[k] = ""
		case string:
			mods[k] = val
		case float64, bool:
			mods[k] = fmt.Sprint(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			mods[k] = string(b)
		}
	}
	return mods, nil
}

// splitNotes moves a free-text "notes" (or "note") modifier out of mods.
func splitNotes(mods models.Modifiers) (models.Modifiers, *string) {
	var notes *string
	for _, key := range []string{"notes", "note"} {
		v, ok := mods[key]
		if !ok {
			continue
		}
		delete(mods, key)
		if v = strings.TrimSpace(v); v != "" && notes == nil {
			notes = &v
		}
	}
	if len(mods) == 0 {
		mods = nil
	}
	return mods, notes
}
