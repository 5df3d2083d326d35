// Package pipeline は検出器とフレーム入出力を束ね、メディア全体の注釈処理を実行します。
package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/jamestrichardson/recognize/internal/detect"
	"github.com/jamestrichardson/recognize/internal/media"
)

// SourceError は入力メディアの読み取りに失敗したことを示します。
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string { return fmt.Sprintf("read media: %v", e.Err) }

func (e *SourceError) Unwrap() error { return e.Err }

// SinkError は出力メディアの書き込みに失敗したことを示します。
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return fmt.Sprintf("write media: %v", e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }

// LabelFunc は検出結果から描画用ラベルを生成します。
// ordinal はフレーム内の検出順（0始まり）です。空文字を返すと枠のみ描画します。
type LabelFunc func(ordinal int, d detect.Detection) string

// RunOptions は注釈処理の動作を指定します。
type RunOptions struct {
	// FrameSkip はNフレームごとに1フレームだけ検出する間隔です。
	// 1以下の場合は全フレームを検出します。先頭フレームは常に検出対象です。
	FrameSkip int
	// Label は検出枠へ描画するラベルを生成します。nilの場合は枠のみ描画します。
	Label LabelFunc
}

// FrameResult は検出があったフレーム1件の結果です。
type FrameResult struct {
	FrameIndex int
	Timestamp  float64
	Detections []detect.Detection
}

// MediaSummary はメディア全体の処理結果です。
type MediaSummary struct {
	TotalFrames     int            // 読み取ったフレーム数
	ProcessedFrames int            // 検出があったフレーム数
	TotalDetections int            // 検出の総数
	LabelCounts     map[string]int // ラベルごとの検出数
	Frames          []FrameResult  // 検出があったフレームの明細
	Meta            media.StreamMeta
}

// Run は入力の全フレームを処理し、注釈付きメディアを出力へ書き出します。
//
// FrameSkip に従って間引いたフレームだけを検出し、検出があったフレームには
// 注釈を描画します。検出対象でないフレームは変更せずそのまま出力へ書き出します。
// 途中で失敗した場合は出力を破棄し、部分的な出力ファイルを残しません。
// 出力の Close / Discard は Run が行います。入力の Close は呼び出し側が行います。
func Run(ctx context.Context, src media.FrameSource, sink media.FrameSink, det detect.Detector, opts RunOptions) (*MediaSummary, error) {
	if !det.Ready() {
		_ = sink.Discard()
		return nil, detect.ErrNotReady
	}

	skip := max(opts.FrameSkip, 1)
	meta := src.Meta()
	summary := &MediaSummary{
		LabelCounts: make(map[string]int),
		Meta:        meta,
	}

	for {
		if err := ctx.Err(); err != nil {
			_ = sink.Discard()
			return nil, err
		}

		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = sink.Discard()
			return nil, &SourceError{Err: err}
		}

		if f.Index%skip == 0 {
			dets, err := det.Detect(ctx, f)
			if err != nil {
				_ = sink.Discard()
				return nil, err
			}
			if len(dets) > 0 {
				if err := annotate(f, dets, opts.Label); err != nil {
					_ = sink.Discard()
					return nil, err
				}
				summary.ProcessedFrames++
				summary.TotalDetections += len(dets)
				for _, d := range dets {
					summary.LabelCounts[d.Label]++
				}
				summary.Frames = append(summary.Frames, FrameResult{
					FrameIndex: f.Index,
					Timestamp:  timestamp(f.Index, meta.FPS),
					Detections: dets,
				})
			}
		}

		if err := sink.Write(f); err != nil {
			_ = sink.Discard()
			return nil, &SinkError{Err: err}
		}
		summary.TotalFrames++
	}

	if err := sink.Close(); err != nil {
		_ = sink.Discard()
		return nil, &SinkError{Err: err}
	}
	return summary, nil
}

func annotate(f *media.Frame, dets []detect.Detection, label LabelFunc) error {
	anns := make([]media.Annotation, len(dets))
	for i, d := range dets {
		text := ""
		if label != nil {
			text = label(i, d)
		}
		anns[i] = media.Annotation{
			X:      d.Box.X,
			Y:      d.Box.Y,
			Width:  d.Box.Width,
			Height: d.Box.Height,
			Label:  text,
		}
	}
	return media.Annotate(f, anns)
}

// timestamp はフレーム番号を秒単位の再生位置へ変換します。
func timestamp(index int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(index) / fps
}
