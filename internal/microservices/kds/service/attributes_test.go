package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-kds/internal/microservices/kds/models"
)

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		name string
		blob string
		kind AttributesKind
		want models.Modifiers
	}{
		{name: "empty", blob: "", kind: AttributesAbsent},
		{name: "whitespace", blob: "  \n", kind: AttributesAbsent},
		{
			name: "java properties",
			blob: `<?xml version="1.0" encoding="UTF-8" standalone="no"?>
<!DOCTYPE properties SYSTEM "http://java.sun.com/dtd/properties.dtd">
<properties>
<entry key="size">Large</entry>
<entry key="milk"> Oat </entry>
</properties>`,
			kind: AttributesParsed,
			want: models.Modifiers{"size": "Large", "milk": "Oat"},
		},
		{
			name: "child elements",
			blob: `<attributes><size>Small</size><shots>2</shots></attributes>`,
			kind: AttributesParsed,
			want: models.Modifiers{"size": "Small", "shots": "2"},
		},
		{name: "root without children", blob: `<properties/>`, kind: AttributesAbsent},
		{
			name: "json object",
			blob: `{"size":"Large","shots":2,"decaf":true,"syrup":null}`,
			kind: AttributesParsed,
			want: models.Modifiers{"size": "Large", "shots": "2", "decaf": "true", "syrup": ""},
		},
		{
			name: "json nested value",
			blob: `{"extras":["foam","cinnamon"]}`,
			kind: AttributesParsed,
			want: models.Modifiers{"extras": `["foam","cinnamon"]`},
		},
		{name: "empty json", blob: `{}`, kind: AttributesAbsent},
		{name: "unclosed root", blob: `<properties><entry key="a">1</entry>`, kind: AttributesMalformed},
		{name: "unclosed entry", blob: `<properties><entry key="a">`, kind: AttributesMalformed},
		{name: "plain text", blob: `large oat`, kind: AttributesMalformed},
		{name: "trailing element", blob: `<a><b>1</b></a><c/>`, kind: AttributesMalformed},
		{name: "broken json", blob: `{"size":`, kind: AttributesMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAttributes([]byte(tt.blob))
			assert.Equal(t, tt.kind, got.Kind, "err: %v", got.Err)
			assert.Equal(t, tt.want, got.Modifiers)
			if tt.kind == AttributesMalformed {
				assert.Error(t, got.Err)
			} else {
				assert.NoError(t, got.Err)
			}
		})
	}
}

func TestSplitNotes(t *testing.T) {
	mods, notes := splitNotes(models.Modifiers{"size": "L", "notes": " name on cup "})
	assert.Equal(t, models.Modifiers{"size": "L"}, mods)
	require.NotNil(t, notes)
	assert.Equal(t, "name on cup", *notes)

	mods, notes = splitNotes(models.Modifiers{"note": ""})
	assert.Nil(t, mods)
	assert.Nil(t, notes)
}
