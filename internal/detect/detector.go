// Package detect は画像フレームに対する顔検出・物体検出を提供します。
package detect

import (
	"context"
	"errors"

	"github.com/jamestrichardson/recognize/internal/media"
)

// ErrNotReady は検出器がモデル未読み込みなどの理由で利用できないことを示します。
var ErrNotReady = errors.New("detector is not available")

// BBox はフレーム座標系での検出枠です。
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection は1件の検出結果です。
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"bbox"`
}

// Detector はフレームから検出結果を得る検出器です。
type Detector interface {
	// Name は検出器の識別名を返します。
	Name() string
	// Ready は検出器が利用可能かを返します。
	Ready() bool
	// Detect はフレーム内の対象を検出します。
	// 検出器が利用できない場合は ErrNotReady を返します。
	Detect(ctx context.Context, f *media.Frame) ([]Detection, error)
}

// clipBox は検出枠をフレーム境界内へ切り詰めます。
// 切り詰め後に面積が残らない場合は false を返します。
func clipBox(b BBox, width, height int) (BBox, bool) {
	x0 := max(b.X, 0)
	y0 := max(b.Y, 0)
	x1 := min(b.X+b.Width, width)
	y1 := min(b.Y+b.Height, height)
	if x1 <= x0 || y1 <= y0 {
		return BBox{}, false
	}
	return BBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}
