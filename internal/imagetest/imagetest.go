// Package imagetest builds small encoded images for tests.
package imagetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
)

// PNG returns a w x h PNG. When parameters is non-empty it is stored in a
// tEXt chunk with the "parameters" keyword, as Stable Diffusion UIs do.
func PNG(w, h int, parameters string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	if parameters == "" {
		return buf.Bytes()
	}

	raw := buf.Bytes()
	const afterIHDR = 8 + 8 + 13 + 4
	out := append([]byte{}, raw[:afterIHDR]...)
	out = append(out, chunk("tEXt", append([]byte("parameters\x00"), parameters...))...)
	return append(out, raw[afterIHDR:]...)
}

// InsertChunk returns a copy of the PNG data with one more chunk placed after IHDR.
func InsertChunk(data []byte, chunkType string, body []byte) []byte {
	const afterIHDR = 8 + 8 + 13 + 4
	out := append([]byte{}, data[:afterIHDR]...)
	out = append(out, chunk(chunkType, body)...)
	return append(out, data[afterIHDR:]...)
}

func chunk(chunkType string, body []byte) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, uint32(len(body)))
	b.WriteString(chunkType)
	b.Write(body)
	_ = binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(append([]byte(chunkType), body...)))
	return b.Bytes()
}
