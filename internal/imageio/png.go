package imageio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"io"
)

// ihdrEnd is the offset just past the IHDR chunk: signature, length, type,
// 13 data bytes and the CRC.
const ihdrEnd = 8 + 4 + 4 + 13 + 4

// EncodePNG writes img as a PNG carrying dpi in a pHYs chunk.
func EncodePNG(w io.Writer, img image.Image, dpi DPI) error {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return err
	}

	data := buf.Bytes()
	if len(data) < ihdrEnd || string(data[12:16]) != "IHDR" {
		return fmt.Errorf("png encoder produced unexpected header")
	}

	if !dpi.Valid() {
		_, err := w.Write(data)
		return err
	}

	if _, err := w.Write(data[:ihdrEnd]); err != nil {
		return err
	}
	if _, err := w.Write(physChunk(dpi)); err != nil {
		return err
	}
	_, err := w.Write(data[ihdrEnd:])
	return err
}

func physChunk(dpi DPI) []byte {
	chunk := make([]byte, 4+4+9+4)
	binary.BigEndian.PutUint32(chunk[0:4], 9)
	copy(chunk[4:8], "pHYs")
	binary.BigEndian.PutUint32(chunk[8:12], dpiToPPM(dpi.X))
	binary.BigEndian.PutUint32(chunk[12:16], dpiToPPM(dpi.Y))
	chunk[16] = 1 // metre
	binary.BigEndian.PutUint32(chunk[17:21], crc32.ChecksumIEEE(chunk[4:17]))
	return chunk
}
