package detect

import "sort"

// RawAnchor は物体検出モデルが出力する1件の生アンカーです。
// 座標はフレームサイズに対する比率（0〜1）で表します。
type RawAnchor struct {
	CX     float64   // 中心X（比率）
	CY     float64   // 中心Y（比率）
	W      float64   // 幅（比率）
	H      float64   // 高さ（比率）
	Scores []float64 // クラスごとのスコア
}

// PostProcessor は生アンカーをしきい値判定とNMSで検出結果へ変換します。
type PostProcessor struct {
	ConfidenceThreshold float64
	NMSThreshold        float64
	Labels              []string
}

type candidate struct {
	box     BBox
	conf    float64
	classID int
}

// Process は生アンカー列を検出結果へ変換します。
// 各アンカーはスコア最大のクラスを採用し、信頼度がしきい値を超える場合のみ残します。
// 残った枠はNMSで重なりの大きいものを除去し、フレーム境界内へ切り詰めて返します。
func (p PostProcessor) Process(anchors []RawAnchor, width, height int) []Detection {
	var cands []candidate
	for _, a := range anchors {
		if len(a.Scores) == 0 {
			continue
		}
		classID := 0
		for i, s := range a.Scores {
			if s > a.Scores[classID] {
				classID = i
			}
		}
		conf := a.Scores[classID]
		if conf <= p.ConfidenceThreshold {
			continue
		}

		cx := int(a.CX * float64(width))
		cy := int(a.CY * float64(height))
		w := int(a.W * float64(width))
		h := int(a.H * float64(height))
		// 中心座標から左上座標へ変換する。端数は0方向へ切り捨てる。
		x := int(float64(cx) - float64(w)/2)
		y := int(float64(cy) - float64(h)/2)

		cands = append(cands, candidate{
			box:     BBox{X: x, Y: y, Width: w, Height: h},
			conf:    conf,
			classID: classID,
		})
	}

	out := make([]Detection, 0, len(cands))
	for _, c := range nms(cands, p.NMSThreshold) {
		box, ok := clipBox(c.box, width, height)
		if !ok {
			continue
		}
		out = append(out, Detection{
			Label:      labelFor(p.Labels, c.classID),
			Confidence: c.conf,
			Box:        box,
		})
	}
	return out
}

// nms は信頼度の高い順に枠を採用し、採用済みの枠とのIoUが
// しきい値を超える枠を除去します。信頼度が同じ場合は入力順を保ちます。
func nms(cands []candidate, threshold float64) []candidate {
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return cands[order[i]].conf > cands[order[j]].conf
	})

	suppressed := make([]bool, len(cands))
	kept := make([]candidate, 0, len(cands))
	for pos, i := range order {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for _, j := range order[pos+1:] {
			if !suppressed[j] && iou(cands[i].box, cands[j].box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// iou は2つの枠のIntersection over Unionを返します。
func iou(a, b BBox) float64 {
	x0 := max(a.X, b.X)
	y0 := max(a.Y, b.Y)
	x1 := min(a.X+a.Width, b.X+b.Width)
	y1 := min(a.Y+a.Height, b.Y+b.Height)

	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := float64((x1 - x0) * (y1 - y0))
	union := float64(a.Width*a.Height+b.Width*b.Height) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
