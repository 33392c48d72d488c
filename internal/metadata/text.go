package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Errors reported by ExtractText. Both are warnings from the gallery's point of view.
var (
	ErrMalformed         = errors.New("malformed image metadata")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

var (
	pngSignature  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegSOI       = []byte{0xff, 0xd8}
	tiffLittle    = []byte("II*\x00")
	tiffBig       = []byte("MM\x00*")
	exifAPP1Magic = []byte("Exif\x00\x00")
)

// Text keywords, most preferred first.
const (
	keywordParameters  = "parameters"
	keywordUserComment = "UserComment"
	keywordComment     = "Comment"
)

// maxInflatedText bounds decompressed zTXt/iTXt payloads.
const maxInflatedText = 4 << 20

// ExtractText returns the free-text generation parameters embedded in an image:
// the PNG "parameters" text chunk, or the EXIF UserComment of JPEG, TIFF, WebP and PNG files.
// An image without such text yields "" and a nil error.
func ExtractText(data []byte) (string, error) {
	switch {
	case len(data) == 0:
		return "", nil
	case bytes.HasPrefix(data, pngSignature):
		return pngText(data)
	case bytes.HasPrefix(data, jpegSOI):
		return jpegText(data)
	case bytes.HasPrefix(data, tiffLittle), bytes.HasPrefix(data, tiffBig):
		return exifUserComment(data)
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return webpText(data)
	default:
		return "", ErrUnsupportedFormat
	}
}

// pngText walks the chunk list. Chunk CRCs are not verified.
// A chunk that fails to decode is skipped; its error is returned only when
// no other chunk yields text.
func pngText(data []byte) (string, error) {
	texts := make(map[string]string)
	var exifComment string
	var chunkErr error
	keep := func(err error) {
		if chunkErr == nil {
			chunkErr = err
		}
	}
	result := func() (string, error) {
		if found := preferredText(texts, exifComment); found != "" {
			return found, nil
		}
		return "", chunkErr
	}

	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		chunkType := string(data[pos+4 : pos+8])
		start := pos + 8
		end := start + length
		if length < 0 || end+4 > len(data) {
			keep(fmt.Errorf("%w: truncated PNG chunk %q", ErrMalformed, chunkType))
			return result()
		}
		body := data[start:end]

		switch chunkType {
		case "tEXt":
			if k, v, ok := parseTEXt(body); ok {
				texts[k] = v
			}
		case "zTXt":
			if k, v, err := parseZTXt(body); err != nil {
				keep(err)
			} else {
				texts[k] = v
			}
		case "iTXt":
			if k, v, err := parseITXt(body); err != nil {
				keep(err)
			} else {
				texts[k] = v
			}
		case "eXIf":
			if comment, err := exifUserComment(body); err != nil {
				keep(err)
			} else {
				exifComment = comment
			}
		case "IEND":
			return result()
		}
		pos = end + 4
	}
	return result()
}

func preferredText(texts map[string]string, exifComment string) string {
	if v, ok := texts[keywordParameters]; ok {
		return v
	}
	if v, ok := texts[keywordUserComment]; ok {
		return v
	}
	if exifComment != "" {
		return exifComment
	}
	return texts[keywordComment]
}

func parseTEXt(body []byte) (string, string, bool) {
	i := bytes.IndexByte(body, 0)
	if i < 0 {
		return "", "", false
	}
	return string(body[:i]), latin1(body[i+1:]), true
}

func parseZTXt(body []byte) (string, string, error) {
	i := bytes.IndexByte(body, 0)
	if i < 0 || i+2 > len(body) {
		return "", "", fmt.Errorf("%w: zTXt chunk without keyword", ErrMalformed)
	}
	raw, err := inflate(body[i+2:])
	if err != nil {
		return "", "", err
	}
	return string(body[:i]), latin1(raw), nil
}

func parseITXt(body []byte) (string, string, error) {
	i := bytes.IndexByte(body, 0)
	if i < 0 || i+3 > len(body) {
		return "", "", fmt.Errorf("%w: iTXt chunk without keyword", ErrMalformed)
	}
	keyword := string(body[:i])
	compressed := body[i+1] == 1
	rest := body[i+3:]

	// Skip language tag and translated keyword.
	for n := 0; n < 2; n++ {
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return "", "", fmt.Errorf("%w: iTXt chunk %q is truncated", ErrMalformed, keyword)
		}
		rest = rest[j+1:]
	}

	if compressed {
		raw, err := inflate(rest)
		if err != nil {
			return "", "", err
		}
		rest = raw
	}
	return keyword, string(rest), nil
}

func inflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxInflatedText))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw, nil
}

func latin1(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// jpegText finds the APP1 Exif segment and reads its UserComment.
func jpegText(data []byte) (string, error) {
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xff {
			return "", fmt.Errorf("%w: bad JPEG marker at offset %d", ErrMalformed, pos)
		}
		marker := data[pos+1]
		switch {
		case marker == 0xff:
			pos++ // fill byte
			continue
		case marker == 0xd9 || marker == 0xda:
			// EOI or start of scan: no metadata segments follow.
			return "", nil
		case marker >= 0xd0 && marker <= 0xd7, marker == 0x01:
			pos += 2
			continue
		}

		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		end := pos + 2 + segLen
		if segLen < 2 || end > len(data) {
			return "", fmt.Errorf("%w: truncated JPEG segment", ErrMalformed)
		}
		payload := data[pos+4 : end]
		if marker == 0xe1 && bytes.HasPrefix(payload, exifAPP1Magic) {
			return exifUserComment(payload[len(exifAPP1Magic):])
		}
		pos = end
	}
	return "", nil
}

// webpText reads the EXIF chunk of a RIFF/WebP container.
func webpText(data []byte) (string, error) {
	pos := 12
	for pos+8 <= len(data) {
		fourcc := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		start := pos + 8
		end := start + size
		if size < 0 || end > len(data) {
			return "", fmt.Errorf("%w: truncated WebP chunk %q", ErrMalformed, fourcc)
		}
		if fourcc == "EXIF" {
			payload := bytes.TrimPrefix(data[start:end], exifAPP1Magic)
			return exifUserComment(payload)
		}
		pos = end + size%2
	}
	return "", nil
}

// exifUserComment decodes a TIFF-structured EXIF block and returns its UserComment.
func exifUserComment(tiffData []byte) (string, error) {
	if err := checkTIFFBounds(tiffData); err != nil {
		return "", err
	}
	x, err := exif.Decode(bytes.NewReader(tiffData))
	if x == nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	tag, err := x.Get(exif.UserComment)
	if err != nil {
		// No UserComment is the common case for ordinary photos.
		return "", nil
	}
	return decodeUserComment(tag.Val)
}

const (
	tagExifIFD    = 0x8769
	tagGPSIFD     = 0x8825
	tagInteropIFD = 0xA005

	maxIFDs = 16
)

// tiffTypeSize is the byte size of one value of each TIFF field type.
func tiffTypeSize(typ uint16) (uint64, bool) {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1, true
	case 3, 8: // SHORT, SSHORT
		return 2, true
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4, true
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8, true
	}
	return 0, false
}

// checkTIFFBounds walks the IFD chain and the Exif, GPS and Interop sub-IFDs
// and rejects any entry whose values would extend past the end of data.
// goexif allocates count*size bytes before reading, so this must run first.
func checkTIFFBounds(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: short TIFF header", ErrMalformed)
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return fmt.Errorf("%w: bad TIFF byte order", ErrMalformed)
	}

	size := uint64(len(data))
	queue := []uint32{order.Uint32(data[4:8])}
	seen := make(map[uint32]bool)
	for len(queue) > 0 {
		off := queue[0]
		queue = queue[1:]
		if off == 0 || seen[off] {
			continue
		}
		if len(seen) == maxIFDs {
			return fmt.Errorf("%w: too many IFDs", ErrMalformed)
		}
		seen[off] = true

		if uint64(off)+2 > size {
			return fmt.Errorf("%w: IFD offset %d out of range", ErrMalformed, off)
		}
		n := uint64(order.Uint16(data[off:]))
		entries := uint64(off) + 2
		if entries+n*12+4 > size {
			return fmt.Errorf("%w: IFD at %d has %d entries past the end", ErrMalformed, off, n)
		}
		for i := uint64(0); i < n; i++ {
			e := data[entries+i*12 : entries+i*12+12]
			tag := order.Uint16(e[0:2])
			typ := order.Uint16(e[2:4])
			count := uint64(order.Uint32(e[4:8]))
			width, ok := tiffTypeSize(typ)
			if !ok {
				return fmt.Errorf("%w: tag 0x%04x has unknown type %d", ErrMalformed, tag, typ)
			}
			if count*width > size {
				return fmt.Errorf("%w: tag 0x%04x claims %d values of %d bytes", ErrMalformed, tag, count, width)
			}
			switch tag {
			case tagExifIFD, tagGPSIFD, tagInteropIFD:
				queue = append(queue, order.Uint32(e[8:12]))
			}
		}
		queue = append(queue, order.Uint32(data[entries+n*12:]))
	}
	return nil
}

// decodeUserComment handles the 8-byte character code prefix defined by EXIF.
func decodeUserComment(raw []byte) (string, error) {
	if len(raw) < 8 {
		return strings.TrimRight(string(raw), "\x00 "), nil
	}
	code, payload := string(raw[:8]), raw[8:]

	switch {
	case strings.HasPrefix(code, "UNICODE"):
		dec := unicode.UTF16(utf16Endianness(payload), unicode.UseBOM).NewDecoder()
		out, err := dec.Bytes(payload)
		if err != nil {
			return "", fmt.Errorf("%w: UserComment is not valid UTF-16: %v", ErrMalformed, err)
		}
		return strings.TrimRight(string(out), "\x00"), nil
	case strings.HasPrefix(code, "ASCII"), strings.HasPrefix(code, "JIS"), code == "\x00\x00\x00\x00\x00\x00\x00\x00":
		return strings.TrimRight(string(payload), "\x00 "), nil
	default:
		// Writers that skip the character code entirely.
		return strings.TrimRight(string(raw), "\x00 "), nil
	}
}

// utf16Endianness guesses byte order from where the zero bytes of ASCII text fall.
func utf16Endianness(payload []byte) unicode.Endianness {
	var evenZeros, oddZeros int
	for i, b := range payload {
		if b != 0 {
			continue
		}
		if i%2 == 0 {
			evenZeros++
		} else {
			oddZeros++
		}
	}
	if oddZeros > evenZeros {
		return unicode.LittleEndian
	}
	return unicode.BigEndian
}
