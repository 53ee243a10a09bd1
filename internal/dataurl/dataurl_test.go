package dataurl

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pngPayload = "iVBORw0KGgo="

func encode(subtype string, data []byte) string {
	return "data:image/" + subtype + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestScan_Single(t *testing.T) {
	doc := `<img src="data:image/png;base64,` + pngPayload + `">`
	refs := Scan(doc)
	require.Len(t, refs, 1)
	r := refs[0]
	assert.Equal(t, "png", r.Subtype)
	assert.Equal(t, pngPayload, r.Payload)
	assert.Equal(t, r.Raw, doc[r.Start:r.End], "offsets must cover the raw text")
	assert.Equal(t, len(`<img src="`), r.Start)
}

func TestScan_OrderAndNoOverlap(t *testing.T) {
	doc := "a data:image/gif;base64,R0lG b data:image/svg+xml;base64,PHN2Zz4= c"
	refs := Scan(doc)
	require.Len(t, refs, 2)
	assert.Equal(t, "gif", refs[0].Subtype)
	assert.Equal(t, "svg+xml", refs[1].Subtype)
	assert.LessOrEqual(t, refs[0].End, refs[1].Start, "matches overlap")
}

func TestScan_IgnoresNonMatching(t *testing.T) {
	docs := []string{
		"data:text/plain;base64,aGVsbG8=",
		"data:image/png,rawbytes",
		"data:image/PNG;base64,AAAA",
		"data:image/;base64,AAAA",
		"data:image/png;base64,",
		"no data urls here",
	}
	for _, doc := range docs {
		assert.Empty(t, Scan(doc), "Scan(%q)", doc)
	}
}

func TestScan_PayloadStopsAtNonAlphabet(t *testing.T) {
	refs := Scan(`url(data:image/webp;base64,UklGRg==)`)
	require.Len(t, refs, 1)
	assert.Equal(t, "UklGRg==", refs[0].Payload)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"svg+xml": "svg",
		"png":     "png",
		"jpeg":    "jpg",
		"jpg":     "jpg",
		"gif":     "gif",
		"webp":    "webp",
		"bmp":     "bmp",
		"x+icon":  "x_icon",
		"vnd+a+b": "vnd_a_b",
	}
	for in, want := range cases {
		assert.Equal(t, want, Extension(in), "Extension(%q)", in)
	}
}

func TestDecode(t *testing.T) {
	b, err := Ref{Payload: "aGVsbG8="}.Decode()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	for _, bad := range []string{"aGVsbG8", "a===", "=AAA"} {
		_, err := Ref{Payload: bad}.Decode()
		assert.Error(t, err, "Decode(%q)", bad)
	}
}

// Trailing padding beyond a complete quantum is rejected rather than ignored,
// so every extracted file re-encodes to exactly the payload it came from.
func TestDecode_RejectsExcessPadding(t *testing.T) {
	for _, payload := range []string{"AAAA=", "AAAA==", "aGVsbG8==", "AAAA===="} {
		refs := Scan("data:image/png;base64," + payload)
		require.Len(t, refs, 1)
		require.Equal(t, payload, refs[0].Payload, "scanner keeps the padding")
		_, err := refs[0].Decode()
		assert.Error(t, err, "Decode(%q)", payload)
	}

	b, err := Ref{Payload: "AAAA"}.Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, b)
}

func TestDecodeRoundTrip(t *testing.T) {
	data := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 0xff}
	url := encode("png", data)
	refs := Scan(url)
	require.Len(t, refs, 1)
	assert.Equal(t, url, refs[0].Raw)

	got, err := refs[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", refs[0].MediaType())
}
