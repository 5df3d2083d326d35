package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"os/exec"
	"strings"

	"github.com/jamestrichardson/recognize/internal/media"
)

// Model は物体検出モデルの推論インターフェースです。
type Model interface {
	// Ready はモデルが推論可能かを返します。
	Ready() bool
	// Predict はフレームに対する生アンカー列を返します。
	Predict(ctx context.Context, f *media.Frame) ([]RawAnchor, error)
}

// ObjectDetector はモデルの生アンカーを後処理して物体を検出します。
type ObjectDetector struct {
	model Model
	post  PostProcessor
}

// NewObjectDetector は物体検出器を作成します。
func NewObjectDetector(model Model, post PostProcessor) *ObjectDetector {
	return &ObjectDetector{model: model, post: post}
}

// Name は検出器の識別名を返します。
func (d *ObjectDetector) Name() string { return "object" }

// Ready はモデルが構成済みかつ推論可能かを返します。
// クラス名一覧は必須ではなく、未解決のクラスは Unknown になります。
func (d *ObjectDetector) Ready() bool {
	return d.model != nil && d.model.Ready()
}

// Detect はフレーム内の物体を検出します。
func (d *ObjectDetector) Detect(ctx context.Context, f *media.Frame) ([]Detection, error) {
	if !d.Ready() {
		return nil, ErrNotReady
	}

	anchors, err := d.model.Predict(ctx, f)
	if err != nil {
		return nil, err
	}
	return d.post.Process(anchors, f.Width, f.Height), nil
}

// ExecModel はフレームを標準入力へ渡し、生アンカーをJSONで受け取る外部推論コマンドです。
// コマンドは {"anchors": [[cx, cy, w, h, objectness, score...], ...]} を標準出力へ返します。
type ExecModel struct {
	Command string
	Args    []string
}

// Ready はコマンドが構成済みかを返します。
func (m *ExecModel) Ready() bool { return m.Command != "" }

// Predict はフレームをPNGとして渡し、コマンドの出力を生アンカー列へ変換します。
func (m *ExecModel) Predict(ctx context.Context, f *media.Frame) ([]RawAnchor, error) {
	var input bytes.Buffer
	if err := png.Encode(&input, f.Image()); err != nil {
		return nil, fmt.Errorf("encode model input: %w", err)
	}

	cmd := exec.CommandContext(ctx, m.Command, m.Args...)
	cmd.Stdin = &input
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("object model: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("object model: %w", err)
	}
	return parseModelOutput(stdout.Bytes())
}

func parseModelOutput(data []byte) ([]RawAnchor, error) {
	var out struct {
		Anchors [][]float64 `json:"anchors"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}

	anchors := make([]RawAnchor, 0, len(out.Anchors))
	for i, row := range out.Anchors {
		if len(row) < 5 {
			return nil, fmt.Errorf("anchor %d has %d values, want at least 5", i, len(row))
		}
		anchors = append(anchors, RawAnchor{
			CX:     row[0],
			CY:     row[1],
			W:      row[2],
			H:      row[3],
			Scores: row[5:],
		})
	}
	return anchors, nil
}
