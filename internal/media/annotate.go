package media

import (
	"github.com/fogleman/gg"
)

// Annotation はフレームへ描き込む1件の検出枠です。
type Annotation struct {
	X      int
	Y      int
	Width  int
	Height int
	Label  string // 空の場合は枠のみ描画する
}

// Annotate は検出枠とラベルをフレームへ描き込みます。
// 枠は緑色・線幅2ピクセルで、ラベルは枠の左上に描画します。
func Annotate(f *Frame, anns []Annotation) error {
	if len(anns) == 0 {
		return nil
	}

	img := f.Image()
	dc := gg.NewContextForRGBA(img)
	dc.SetRGB255(0, 255, 0)
	dc.SetLineWidth(2)

	for _, a := range anns {
		dc.DrawRectangle(float64(a.X), float64(a.Y), float64(a.Width), float64(a.Height))
		dc.Stroke()
		if a.Label != "" {
			dc.DrawString(a.Label, float64(a.X), float64(a.Y-10))
		}
	}
	return f.SetImage(img)
}
