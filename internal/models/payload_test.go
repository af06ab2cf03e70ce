package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadFlattensNestedObjects(t *testing.T) {
	var p PayloadMap
	raw := `{
		"message": "hello",
		"sentiment": -0.8,
		"is_vip": true,
		"tags": ["billing", "refund"],
		"contact": {"email": "ana@example.com", "details": {"company": "Acme"}}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	v, ok := p.Resolve("message")
	require.True(t, ok)
	assert.Equal(t, "hello", v.Str)

	v, ok = p.Resolve("sentiment")
	require.True(t, ok)
	assert.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, -0.8, v.Num)

	v, ok = p.Resolve("contact.email")
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", v.Str)

	v, ok = p.Resolve("contact.details.company")
	require.True(t, ok)
	assert.Equal(t, "Acme", v.Str)

	v, ok = p.Resolve("tags")
	require.True(t, ok)
	assert.Equal(t, []string{"billing", "refund"}, v.List)

	_, ok = p.Resolve("contact")
	assert.False(t, ok, "intermediate objects are flattened away")
}

func TestPayloadDropsValuesOutsideClosedKinds(t *testing.T) {
	var p PayloadMap
	raw := `{"mixed": [1, "two"], "nothing": null, "message": "ok"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	_, ok := p.Resolve("mixed")
	assert.False(t, ok)
	_, ok = p.Resolve("nothing")
	assert.False(t, ok)

	v, ok := p.Resolve("message")
	require.True(t, ok)
	assert.Equal(t, "ok", v.Str)
}

func TestPayloadValueAsNumber(t *testing.T) {
	n, ok := NumberValue(2.5).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 2.5, n)

	n, ok = StringValue("-0.8").AsNumber()
	assert.True(t, ok)
	assert.Equal(t, -0.8, n)

	_, ok = StringValue("not a number").AsNumber()
	assert.False(t, ok)

	n, ok = BoolValue(true).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.0, n)

	_, ok = StringListValue("a").AsNumber()
	assert.False(t, ok)
}

func TestPayloadValueString(t *testing.T) {
	assert.Equal(t, "Ana", StringValue("Ana").String())
	assert.Equal(t, "-0.8", NumberValue(-0.8).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "a,b", StringListValue("a", "b").String())
}
