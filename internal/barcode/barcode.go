// Package barcode decodes product and invoice barcodes from still frames and
// renders invoice access keys as Code 128 images.
package barcode

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Symbology identifies a barcode format.
type Symbology string

const (
	Code128 Symbology = "CODE_128"
	Code39  Symbology = "CODE_39"
	EAN13   Symbology = "EAN_13"
	EAN8    Symbology = "EAN_8"
	UPCA    Symbology = "UPC_A"
	UPCE    Symbology = "UPC_E"
	QR      Symbology = "QR_CODE"
)

// Supported is the symbology set used for scanning, in the order readers
// are tried.
var Supported = []Symbology{EAN13, EAN8, UPCA, UPCE, Code128, Code39, QR}

// ErrNotFound means the frame holds no decodable symbol.
var ErrNotFound = errors.New("no barcode found")

// Result is a decoded symbol.
type Result struct {
	Text      string    `json:"text"`
	Symbology Symbology `json:"symbology"`
}

type reader struct {
	sym Symbology
	r   gozxing.Reader
}

// Decoder tries each configured symbology reader on a frame. It is safe for
// concurrent use; the readers keep scratch state, so decodes are serialized.
type Decoder struct {
	mu      sync.Mutex
	readers []reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewDecoder returns a decoder for syms. With no arguments it decodes every
// Supported symbology.
func NewDecoder(syms ...Symbology) (*Decoder, error) {
	if len(syms) == 0 {
		syms = Supported
	}

	d := &Decoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
	for _, s := range syms {
		r, err := newReader(s)
		if err != nil {
			return nil, err
		}
		d.readers = append(d.readers, reader{sym: s, r: r})
	}
	return d, nil
}

func newReader(s Symbology) (gozxing.Reader, error) {
	switch s {
	case Code128:
		return oned.NewCode128Reader(), nil
	case Code39:
		return oned.NewCode39Reader(), nil
	case EAN13:
		return oned.NewEAN13Reader(), nil
	case EAN8:
		return oned.NewEAN8Reader(), nil
	case UPCA:
		return oned.NewUPCAReader(), nil
	case UPCE:
		return oned.NewUPCEReader(), nil
	case QR:
		return qrcode.NewQRCodeReader(), nil
	default:
		return nil, fmt.Errorf("unsupported symbology %q", s)
	}
}

// Decode returns the first symbol any reader finds in img, or ErrNotFound.
// Per-reader failures (no symbol, bad checksum, unreadable format) are not
// errors of their own; a frame either yields a symbol or it does not.
func (d *Decoder) Decode(img image.Image) (*Result, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("preparing frame: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rd := range d.readers {
		res, err := rd.r.Decode(bmp, d.hints)
		rd.r.Reset()
		if err != nil || res == nil || res.GetText() == "" {
			continue
		}
		return &Result{Text: res.GetText(), Symbology: rd.sym}, nil
	}
	return nil, ErrNotFound
}

// DecodeFrame reports whether img holds a symbol. It never fails on frames
// without one; only a frame that cannot be read at all is an error.
func (d *Decoder) DecodeFrame(img image.Image) (string, bool, error) {
	res, err := d.Decode(img)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return res.Text, true, nil
}
