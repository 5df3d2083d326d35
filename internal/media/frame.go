// Package media は画像・動画のフレーム入出力と注釈描画を提供します。
package media

import (
	"fmt"
	"image"
	"image/draw"
)

// Frame は画像または動画の1フレームをRGB24形式で保持します。
// Pix は1ピクセル3バイト（R, G, B）で行単位に連続します。
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

// StreamMeta は入力メディアのストリーム情報です。
type StreamMeta struct {
	Width       int
	Height      int
	TotalFrames int     // 不明な場合は0
	FPS         float64 // 静止画の場合は0
}

// FrameSource はフレームを順に供給する入力源です。
type FrameSource interface {
	// Next は次のフレームを返します。終端に達した場合は io.EOF を返します。
	Next() (*Frame, error)
	// Meta はストリーム情報を返します。
	Meta() StreamMeta
	Close() error
}

// FrameSink はフレームを順に受け取る出力先です。
// 通常は Close か Discard のいずれか一方を1回だけ呼び出します。
// Close が失敗した場合は、続けて Discard で部分的な出力を破棄できます。
type FrameSink interface {
	Write(f *Frame) error
	// Close は出力を確定します。
	Close() error
	// Discard は書き込みを中断し、部分的な出力を削除します。
	Discard() error
}

// NewFrame は指定サイズの空のフレームを作成します。
func NewFrame(index, width, height int) *Frame {
	return &Frame{
		Index:  index,
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// FrameFromImage は画像をRGB24フレームへ変換します。
func FrameFromImage(index int, img image.Image) *Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	f := NewFrame(index, w, h)
	for y := 0; y < h; y++ {
		sp := rgba.PixOffset(0, y)
		dp := y * w * 3
		for x := 0; x < w; x++ {
			f.Pix[dp] = rgba.Pix[sp]
			f.Pix[dp+1] = rgba.Pix[sp+1]
			f.Pix[dp+2] = rgba.Pix[sp+2]
			sp += 4
			dp += 3
		}
	}
	return f
}

// Image はフレームをRGBA画像へ変換します。返り値はフレームとは独立したコピーです。
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		sp := y * f.Width * 3
		dp := img.PixOffset(0, y)
		for x := 0; x < f.Width; x++ {
			img.Pix[dp] = f.Pix[sp]
			img.Pix[dp+1] = f.Pix[sp+1]
			img.Pix[dp+2] = f.Pix[sp+2]
			img.Pix[dp+3] = 0xff
			sp += 3
			dp += 4
		}
	}
	return img
}

// SetImage は画像の内容をフレームへ書き戻します。サイズは一致している必要があります。
func (f *Frame) SetImage(img *image.RGBA) error {
	bounds := img.Bounds()
	if bounds.Dx() != f.Width || bounds.Dy() != f.Height {
		return fmt.Errorf("image size %dx%d does not match frame size %dx%d",
			bounds.Dx(), bounds.Dy(), f.Width, f.Height)
	}
	for y := 0; y < f.Height; y++ {
		sp := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		dp := y * f.Width * 3
		for x := 0; x < f.Width; x++ {
			f.Pix[dp] = img.Pix[sp]
			f.Pix[dp+1] = img.Pix[sp+1]
			f.Pix[dp+2] = img.Pix[sp+2]
			sp += 4
			dp += 3
		}
	}
	return nil
}

// Gray はフレームの輝度値（8ビットグレースケール）を行単位で返します。
func (f *Frame) Gray() []uint8 {
	gray := make([]uint8, f.Width*f.Height)
	for i := 0; i < len(gray); i++ {
		p := i * 3
		r := int(f.Pix[p])
		g := int(f.Pix[p+1])
		b := int(f.Pix[p+2])
		gray[i] = uint8((299*r + 587*g + 114*b) / 1000)
	}
	return gray
}

// Clone はフレームの独立したコピーを返します。
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Index: f.Index, Width: f.Width, Height: f.Height, Pix: pix}
}
