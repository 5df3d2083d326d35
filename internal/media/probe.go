package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	NbFrames   string `json:"nb_frames"`
	Duration   string `json:"duration"`
}

// Probe は ffprobe で動画のストリーム情報を取得します。
func Probe(ctx context.Context, ffprobePath, path string) (StreamMeta, error) {
	cmd := exec.CommandContext(ctx, ffprobePath, probeArgs(path)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return StreamMeta{}, fmt.Errorf("ffprobe failed: %s: %w", msg, err)
		}
		return StreamMeta{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeOutput(stdout.Bytes())
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames,duration",
		"-of", "json",
		path,
	}
}

func parseProbeOutput(data []byte) (StreamMeta, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamMeta{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return StreamMeta{}, errors.New("no video stream found")
	}

	st := out.Streams[0]
	if st.Width <= 0 || st.Height <= 0 {
		return StreamMeta{}, fmt.Errorf("invalid video dimensions %dx%d", st.Width, st.Height)
	}

	meta := StreamMeta{
		Width:  st.Width,
		Height: st.Height,
		FPS:    parseFrameRate(st.RFrameRate),
	}
	if n, err := strconv.Atoi(st.NbFrames); err == nil && n > 0 {
		meta.TotalFrames = n
	}
	// コンテナがフレーム数を持たない場合は再生時間から概算する
	if meta.TotalFrames == 0 && meta.FPS > 0 {
		if d, err := strconv.ParseFloat(st.Duration, 64); err == nil && d > 0 {
			meta.TotalFrames = int(d*meta.FPS + 0.5)
		}
	}
	return meta, nil
}

// parseFrameRate は "30000/1001" のような有理数表記のフレームレートを解釈します。
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return v
	}
	n, errN := strconv.ParseFloat(num, 64)
	d, errD := strconv.ParseFloat(den, 64)
	if errN != nil || errD != nil || d == 0 {
		return 0
	}
	return n / d
}
