package mask

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testMasker(t *testing.T) *Masker {
	t.Helper()
	m, err := New(testKey)
	require.NoError(t, err)
	return m
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New("deadbeef")
	assert.True(t, errors.Is(err, ErrMasterKeyMissing))
}

func TestMaskShape(t *testing.T) {
	m := testMasker(t)
	got, err := m.Mask("P12345")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "MASKED_"))
	assert.Len(t, got, len("MASKED_")+16)
}

func TestMaskDeterministicAndDistinct(t *testing.T) {
	m := testMasker(t)
	a1, err := m.Mask("P12345")
	require.NoError(t, err)
	a2, err := m.Mask("P12345")
	require.NoError(t, err)
	b, err := m.Mask("P99999")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}

func TestMaskEmptyPassesThrough(t *testing.T) {
	m := testMasker(t)
	got, err := m.Mask("")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestMaskWithoutKey(t *testing.T) {
	var m *Masker
	_, err := m.Mask("P12345")
	assert.True(t, errors.Is(err, ErrMasterKeyMissing))

	_, err = (&Masker{}).Mask("P12345")
	assert.True(t, errors.Is(err, ErrMasterKeyMissing))
}

func TestMaskPayload(t *testing.T) {
	m := testMasker(t)
	payload := map[string]interface{}{
		"patronBarcode": "P12345",
		"password":      "x",
		"patronPin":     "9999",
		"CQ":            "secret",
		"nested": map[string]interface{}{
			"itemBarcode":  "I777",
			"personalName": "Alice Valid",
			"dueDate":      "20240401",
		},
		"items":   []interface{}{map[string]interface{}{"AB": "I888"}},
		"count":   3,
		"ok":      true,
		"AE":      "Bob Reader",
	}

	masked, err := m.MaskPayload(payload)
	require.NoError(t, err)
	got := masked.(map[string]interface{})

	wantBarcode, _ := m.Mask("P12345")
	assert.Equal(t, wantBarcode, got["patronBarcode"])
	assert.Equal(t, Redacted, got["password"])
	assert.Equal(t, Redacted, got["patronPin"])
	assert.Equal(t, Redacted, got["CQ"])

	nested := got["nested"].(map[string]interface{})
	wantItem, _ := m.Mask("I777")
	assert.Equal(t, wantItem, nested["itemBarcode"])
	wantName, _ := m.Mask("Alice Valid")
	assert.Equal(t, wantName, nested["personalName"])
	assert.Equal(t, "20240401", nested["dueDate"])

	item := got["items"].([]interface{})[0].(map[string]interface{})
	wantAB, _ := m.Mask("I888")
	assert.Equal(t, wantAB, item["AB"])

	wantAE, _ := m.Mask("Bob Reader")
	assert.Equal(t, wantAE, got["AE"])
	assert.Equal(t, 3, got["count"])
	assert.Equal(t, true, got["ok"])

	// The input is untouched.
	assert.Equal(t, "P12345", payload["patronBarcode"])
	assert.Equal(t, "x", payload["password"])
}

func TestMaskPayloadIdempotentForSecrets(t *testing.T) {
	m := testMasker(t)
	payload := map[string]interface{}{"patronBarcode": "P12345", "password": "x"}

	once, err := m.MaskPayload(payload)
	require.NoError(t, err)
	onceMap := once.(map[string]interface{})
	assert.Equal(t, Redacted, onceMap["password"])
	barcode := onceMap["patronBarcode"].(string)
	assert.True(t, strings.HasPrefix(barcode, "MASKED_"))

	again, err := m.MaskPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, onceMap["patronBarcode"], again.(map[string]interface{})["patronBarcode"])
}

func TestMaskPayloadNonStringValuesUnchanged(t *testing.T) {
	m := testMasker(t)
	payload := map[string]interface{}{"patronBarcode": 12345, "password": 7}
	masked, err := m.MaskPayload(payload)
	require.NoError(t, err)
	got := masked.(map[string]interface{})
	assert.Equal(t, 12345, got["patronBarcode"])
	assert.Equal(t, 7, got["password"])
}

func TestMaskPayloadKeyMissing(t *testing.T) {
	var m *Masker
	_, err := m.MaskPayload(map[string]interface{}{"patronBarcode": "P1"})
	assert.True(t, errors.Is(err, ErrMasterKeyMissing))

	// Secrets are blanked without the key, so key-free payloads still work.
	masked, err := m.MaskPayload(map[string]interface{}{"password": "x", "note": "ok"})
	require.NoError(t, err)
	got := masked.(map[string]interface{})
	assert.Equal(t, Redacted, got["password"])
	assert.Equal(t, "ok", got["note"])
}

func TestRedactFrameSecrets(t *testing.T) {
	m := testMasker(t)
	in := "9300CNcirc|COhunter2|CPLOC|"
	out := RedactFrame(in, m)
	assert.NotContains(t, out, "circ")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "CN"+Redacted)
	assert.Contains(t, out, "CO"+Redacted)
}

func TestRedactFrameIdentifiers(t *testing.T) {
	m := testMasker(t)
	in := "11YN20240315    09304520240315    093045AOMAIN|AAP12345|ABI777|AD1234|"
	out := RedactFrame(in, m)

	assert.NotContains(t, out, "P12345")
	assert.NotContains(t, out, "I777")
	assert.NotContains(t, out, "1234|")
	assert.Contains(t, out, "AD"+Redacted)

	wantAA, _ := m.Mask("P12345")
	assert.Contains(t, out, "AA"+wantAA)
	wantAB, _ := m.Mask("I777")
	assert.Contains(t, out, "AB"+wantAB)
}

func TestRedactFrameWithoutKey(t *testing.T) {
	out := RedactFrame("AAP12345|AEAlice|", nil)
	assert.NotContains(t, out, "P12345")
	assert.NotContains(t, out, "Alice")
	assert.Contains(t, out, "AA"+Redacted)
	assert.Contains(t, out, "AE"+Redacted)
}
