package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_CountsReferences(t *testing.T) {
	doc := `<!doctype html>
<html><head>
<style>.hero { background: url('./assets/image_3.png') no-repeat; }</style>
<link rel="icon" href="./assets/image_4.x_icon">
</head><body>
<img src="./assets/image_1.png" alt="a">
<img src="data:image/png;base64,a===">
<div style="background-image: url(./assets/image_2.gif)"></div>
<picture><source srcset="./assets/image_5.webp 1x, ./assets/image_6.webp 2x"></picture>
<a href="https://example.com/page">link</a>
</body></html>`

	exists := func(name string) bool { return name != "image_6.webp" && name != "image_4.x_icon" }
	a, err := Inspect(doc, "./assets", exists)
	require.NoError(t, err)

	assert.Equal(t, 3, a.Elements, "two img + one source")
	assert.Equal(t, 6, a.AssetRefs)
	assert.Equal(t, 1, a.InlineLeft)
	assert.Equal(t, []string{"image_4.x_icon", "image_6.webp"}, a.MissingFiles)
}

func TestInspect_PlainText(t *testing.T) {
	a, err := Inspect("just some text with ./assets/image_1.png in it", "./assets/", nil)
	require.NoError(t, err)
	assert.Zero(t, a.Elements)
	assert.Zero(t, a.AssetRefs)
	assert.Zero(t, a.InlineLeft)
	assert.Empty(t, a.MissingFiles)
}

func TestInspect_InputImage(t *testing.T) {
	doc := `<form><input type="image" src="./assets/image_1.gif"><input type="text" value="x"></form>`
	a, err := Inspect(doc, "./assets", func(string) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 1, a.Elements)
	assert.Equal(t, 1, a.AssetRefs)
	assert.Empty(t, a.MissingFiles)
}

func TestReferences(t *testing.T) {
	assert.Equal(t, []string{"a.png", "b.png"}, references("srcset", "a.png 1x,  b.png 2x"))
	assert.Equal(t, []string{"x.png", "data:image/gif;base64,R0lG"},
		references("style", `background:url("x.png"); mask: url( data:image/gif;base64,R0lG )`))
	assert.Equal(t, []string{"./assets/image_1.png"}, references("src", "./assets/image_1.png"))
}

func TestInspect_OnlyExtractedNamesCount(t *testing.T) {
	doc := `<link rel="stylesheet" href="./style.css">
<a href="./about.html">about</a>
<img src="./image_1.png"><img src="./logo.png"><img src="./image_2.png">`

	exists := func(name string) bool { return name == "image_1.png" }
	a, err := Inspect(doc, ".", exists)
	require.NoError(t, err)

	assert.Equal(t, 3, a.Elements)
	assert.Equal(t, 2, a.AssetRefs)
	assert.Equal(t, []string{"image_2.png"}, a.MissingFiles)
}
