package httpsurface

import (
	"bytes"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	qrModuleSize = 4
	qrQuietZone  = 4
)

// qrSVG renders value as an SVG QR code with a 4-module quiet zone and
// module size 4, per spec.md §6's /api/qr contract.
func qrSVG(value string) ([]byte, error) {
	q, err := qrcode.New(value, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	bitmap := q.Bitmap()
	n := len(bitmap)
	dim := n + 2*qrQuietZone
	px := dim * qrModuleSize

	var buf bytes.Buffer
	buf.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 `)
	writeInt(&buf, px)
	buf.WriteByte(' ')
	writeInt(&buf, px)
	buf.WriteString(`">`)
	buf.WriteString(`<rect width="100%" height="100%" fill="#fff"/>`)

	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			buf.WriteString(`<rect x="`)
			writeInt(&buf, (x+qrQuietZone)*qrModuleSize)
			buf.WriteString(`" y="`)
			writeInt(&buf, (y+qrQuietZone)*qrModuleSize)
			buf.WriteString(`" width="`)
			writeInt(&buf, qrModuleSize)
			buf.WriteString(`" height="`)
			writeInt(&buf, qrModuleSize)
			buf.WriteString(`" fill="#000"/>`)
		}
	}
	buf.WriteString(`</svg>`)
	return buf.Bytes(), nil
}

func writeInt(buf *bytes.Buffer, n int) {
	buf.WriteString(strconv.Itoa(n))
}
