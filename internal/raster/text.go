package raster

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	sansOnce sync.Once
	sansFont *opentype.Font
	sansErr  error
)

// sans returns the parsed Go Regular font, used as the sans-serif face.
func sans() (*opentype.Font, error) {
	sansOnce.Do(func() {
		sansFont, sansErr = opentype.Parse(goregular.TTF)
	})
	return sansFont, sansErr
}

// maxFaces bounds the faces a canvas keeps around.
const maxFaces = 16

// faceCache keeps one face per pixel size. Faces hold scratch buffers,
// so a cache belongs to a single canvas.
type faceCache struct {
	faces map[float64]font.Face
}

func newFaceCache() *faceCache {
	return &faceCache{faces: make(map[float64]font.Face)}
}

func (fc *faceCache) face(size float64) (font.Face, error) {
	if f, ok := fc.faces[size]; ok {
		return f, nil
	}
	ttf, err := sans()
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	// 72 DPI makes one point equal one canvas pixel.
	f, err := opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("create face: %w", err)
	}
	if len(fc.faces) >= maxFaces {
		for s, old := range fc.faces {
			_ = old.Close()
			delete(fc.faces, s)
		}
	}
	fc.faces[size] = f
	return f, nil
}

// FillText draws text horizontally centered on x with its baseline at y,
// both in canvas pixels.
func (c *Canvas) FillText(text string, x, y, size float64, colorValue string) error {
	col, err := ParseColor(colorValue)
	if err != nil {
		return err
	}
	face, err := c.fonts.face(size)
	if err != nil {
		return err
	}

	advance := font.MeasureString(face, text)
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(x*64) - advance/2,
			Y: fixed.Int26_6(y * 64),
		},
	}
	d.DrawString(text)
	return nil
}
