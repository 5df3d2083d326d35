package recognize

import (
	"github.com/jamestrichardson/recognize/internal/detect"
	"github.com/jamestrichardson/recognize/internal/jobs"
	"github.com/jamestrichardson/recognize/internal/pipeline"
)

// faceEntry は顔検出結果の1件です。face_id は1始まりの連番です。
type faceEntry struct {
	FaceID     int         `json:"face_id"`
	BBox       detect.BBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
}

// objectEntry は物体検出結果の1件です。
type objectEntry struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	BBox       detect.BBox `json:"bbox"`
}

// faceFrameEntry は顔が検出された動画フレーム1件の情報です。
type faceFrameEntry struct {
	Frame      int     `json:"frame"`
	Timestamp  float64 `json:"timestamp"`
	FacesCount int     `json:"faces_count"`
}

// objectFrameEntry は物体が検出された動画フレーム1件の情報です。
type objectFrameEntry struct {
	Frame     int      `json:"frame"`
	Timestamp float64  `json:"timestamp"`
	Objects   []string `json:"objects"`
}

// buildResult は処理結果のペイロードを組み立てます。
// フィールド名は既存クライアントが解釈できる形を維持します。
func buildResult(kind jobs.Kind, inputPath, outputPath string, s *pipeline.MediaSummary) map[string]any {
	switch kind {
	case jobs.KindFaceImage:
		return faceImageResult(inputPath, outputPath, s)
	case jobs.KindFaceVideo:
		return faceVideoResult(inputPath, outputPath, s)
	case jobs.KindObjectImage:
		return objectImageResult(inputPath, outputPath, s)
	default:
		return objectVideoResult(inputPath, outputPath, s)
	}
}

func imageDetections(s *pipeline.MediaSummary) []detect.Detection {
	if len(s.Frames) == 0 {
		return nil
	}
	return s.Frames[0].Detections
}

func faceImageResult(inputPath, outputPath string, s *pipeline.MediaSummary) map[string]any {
	dets := imageDetections(s)
	faces := make([]faceEntry, 0, len(dets))
	for i, d := range dets {
		faces = append(faces, faceEntry{
			FaceID:     i + 1,
			BBox:       d.Box,
			Confidence: d.Confidence,
		})
	}
	return map[string]any{
		"success":         true,
		"faces_detected":  len(faces),
		"faces":           faces,
		"annotated_image": outputPath,
		"original_image":  inputPath,
	}
}

func faceVideoResult(inputPath, outputPath string, s *pipeline.MediaSummary) map[string]any {
	frames := make([]faceFrameEntry, 0, len(s.Frames))
	for _, fr := range s.Frames {
		frames = append(frames, faceFrameEntry{
			Frame:      fr.FrameIndex,
			Timestamp:  fr.Timestamp,
			FacesCount: len(fr.Detections),
		})
	}
	return map[string]any{
		"success":              true,
		"total_frames":         s.TotalFrames,
		"processed_frames":     len(frames),
		"total_faces_detected": s.TotalDetections,
		"frames_with_faces":    frames,
		"annotated_video":      outputPath,
		"original_video":       inputPath,
	}
}

func objectImageResult(inputPath, outputPath string, s *pipeline.MediaSummary) map[string]any {
	dets := imageDetections(s)
	objects := make([]objectEntry, 0, len(dets))
	for _, d := range dets {
		objects = append(objects, objectEntry{
			Class:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.Box,
		})
	}
	return map[string]any{
		"success":          true,
		"objects_detected": len(objects),
		"objects":          objects,
		"annotated_image":  outputPath,
		"original_image":   inputPath,
	}
}

func objectVideoResult(inputPath, outputPath string, s *pipeline.MediaSummary) map[string]any {
	frames := make([]objectFrameEntry, 0, len(s.Frames))
	for _, fr := range s.Frames {
		labels := make([]string, 0, len(fr.Detections))
		for _, d := range fr.Detections {
			labels = append(labels, d.Label)
		}
		frames = append(frames, objectFrameEntry{
			Frame:     fr.FrameIndex,
			Timestamp: fr.Timestamp,
			Objects:   labels,
		})
	}
	return map[string]any{
		"success":             true,
		"total_frames":        s.TotalFrames,
		"processed_frames":    len(frames),
		"object_summary":      s.LabelCounts,
		"frames_with_objects": frames,
		"annotated_video":     outputPath,
		"original_video":      inputPath,
	}
}
