package detect

import (
	"context"
	"fmt"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/jamestrichardson/recognize/internal/media"
)

// FaceLabel は顔検出結果に付与するラベルです。
const FaceLabel = "face"

// faceConfidence はカスケード検出に割り当てる固定の信頼度です。
// カスケード検出は検出ごとの信頼度を持ちません。
const faceConfidence = 1.0

// FaceParams は顔検出のパラメーターです。
type FaceParams struct {
	ScaleFactor   float64 // 探索スケールの拡大率
	MinNeighbors  int     // 検出品質のしきい値
	MinSize       int     // 検出する顔の最小辺長（ピクセル）
	MinConfidence float64 // 受け入れる信頼度の下限
}

// DefaultFaceParams は顔検出の既定パラメーターを返します。
func DefaultFaceParams() FaceParams {
	return FaceParams{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 30}
}

// FaceDetector は学習済みカスケードによる顔検出器です。
type FaceDetector struct {
	classifier *pigo.Pigo
	params     FaceParams
}

// NewFaceDetector はカスケードファイルを読み込み、顔検出器を作成します。
// 読み込みに失敗した場合も検出器自体は返し、Ready が false になります。
func NewFaceDetector(cascadePath string, params FaceParams) (*FaceDetector, error) {
	d := &FaceDetector{params: params}

	data, err := os.ReadFile(cascadePath)
	if err != nil {
		return d, fmt.Errorf("load face cascade: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return d, fmt.Errorf("unpack face cascade: %w", err)
	}
	d.classifier = classifier
	return d, nil
}

// Name は検出器の識別名を返します。
func (d *FaceDetector) Name() string { return "face" }

// Ready はカスケードが読み込み済みかを返します。
func (d *FaceDetector) Ready() bool { return d.classifier != nil }

// Detect はフレーム内の顔を検出します。信頼度は常に1.0です。
func (d *FaceDetector) Detect(ctx context.Context, f *media.Frame) ([]Detection, error) {
	if !d.Ready() {
		return nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if faceConfidence < d.params.MinConfidence {
		return []Detection{}, nil
	}

	cp := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     max(f.Width, f.Height),
		ShiftFactor: 0.1,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: f.Gray(),
			Rows:   f.Height,
			Cols:   f.Width,
			Dim:    f.Width,
		},
	}

	dets := d.classifier.RunCascade(cp, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		// クラスター後の品質値が低い検出はノイズとして除外する
		if det.Q < float32(d.params.MinNeighbors) {
			continue
		}
		box, ok := clipBox(BBox{
			X:      det.Col - det.Scale/2,
			Y:      det.Row - det.Scale/2,
			Width:  det.Scale,
			Height: det.Scale,
		}, f.Width, f.Height)
		if !ok {
			continue
		}
		out = append(out, Detection{Label: FaceLabel, Confidence: faceConfidence, Box: box})
	}
	return out, nil
}
