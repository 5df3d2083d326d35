package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// rawFrameReader は連続したRGB24データをフレーム単位に切り出します。
type rawFrameReader struct {
	r      io.Reader
	width  int
	height int
	index  int
}

func (rr *rawFrameReader) next() (*Frame, error) {
	pix := make([]byte, rr.width*rr.height*3)
	n, err := io.ReadFull(rr.r, pix)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("truncated frame %d: got %d of %d bytes", rr.index, n, len(pix))
	}
	if err != nil {
		return nil, err
	}

	f := &Frame{Index: rr.index, Width: rr.width, Height: rr.height, Pix: pix}
	rr.index++
	return f, nil
}

// VideoSource は ffmpeg で動画をデコードし、フレーム列として供給します。
// 動画全体をメモリへ読み込まず、1フレームずつパイプから取り出します。
type VideoSource struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	reader  rawFrameReader
	meta    StreamMeta
	waited  bool
	waitErr error
}

// OpenVideo は動画ファイルをフレーム入力として開きます。
func OpenVideo(ctx context.Context, ffmpegPath, ffprobePath, path string) (*VideoSource, error) {
	meta, err := Probe(ctx, ffprobePath, path)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, decodeArgs(path)...)
	src := &VideoSource{cmd: cmd, meta: meta}
	cmd.Stderr = &src.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	src.stdout = stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	src.reader = rawFrameReader{r: stdout, width: meta.Width, height: meta.Height}
	return src, nil
}

func decodeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

// Next は次のフレームを返します。終端に達した場合は io.EOF を返します。
func (s *VideoSource) Next() (*Frame, error) {
	f, err := s.reader.next()
	if err == io.EOF {
		// ストリーム終端。デコードが異常終了していればエラーを返す。
		if werr := s.wait(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Meta はストリーム情報を返します。
func (s *VideoSource) Meta() StreamMeta {
	return s.meta
}

// Close は入力を解放します。読み切っていない場合はデコードを打ち切ります。
func (s *VideoSource) Close() error {
	if s.waited {
		return nil
	}
	_ = s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

func (s *VideoSource) wait() error {
	if s.waited {
		return s.waitErr
	}
	s.waited = true
	if err := s.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(s.stderr.String())
		if msg != "" {
			s.waitErr = fmt.Errorf("ffmpeg: %s: %w", msg, err)
		} else {
			s.waitErr = fmt.Errorf("ffmpeg: %w", err)
		}
	}
	return s.waitErr
}

// VideoSink はフレーム列を ffmpeg でエンコードし、動画ファイルへ書き出します。
type VideoSink struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    bytes.Buffer
	path      string
	frameSize int
	closed    bool
}

// CreateVideoSink は注釈付き動画の書き出し先を作成します。
func CreateVideoSink(ctx context.Context, ffmpegPath, path string, meta StreamMeta) (*VideoSink, error) {
	fps := meta.FPS
	if fps <= 0 {
		fps = 25
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, encodeArgs(path, meta.Width, meta.Height, fps)...)
	sink := &VideoSink{cmd: cmd, path: path, frameSize: meta.Width * meta.Height * 3}
	cmd.Stderr = &sink.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	sink.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return sink, nil
}

func encodeArgs(path string, width, height int, fps float64) []string {
	return []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		path,
	}
}

// Write はフレームをエンコーダーへ渡します。
func (s *VideoSink) Write(f *Frame) error {
	if s.closed {
		return fmt.Errorf("video sink is closed")
	}
	if len(f.Pix) != s.frameSize {
		return fmt.Errorf("frame size mismatch: got %d bytes, want %d", len(f.Pix), s.frameSize)
	}
	if _, err := s.stdin.Write(f.Pix); err != nil {
		return s.encodeError(err)
	}
	return nil
}

// Close は入力を閉じ、エンコードの完了を待ちます。
func (s *VideoSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.stdin.Close(); err != nil {
		_ = s.cmd.Wait()
		return s.encodeError(err)
	}
	if err := s.cmd.Wait(); err != nil {
		return s.encodeError(err)
	}
	return nil
}

// Discard は書き込みを中断し、部分的な出力ファイルを削除します。
func (s *VideoSink) Discard() error {
	if !s.closed {
		s.closed = true
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *VideoSink) encodeError(err error) error {
	msg := strings.TrimSpace(s.stderr.String())
	if msg != "" {
		return fmt.Errorf("ffmpeg: %s: %w", msg, err)
	}
	return fmt.Errorf("ffmpeg: %w", err)
}
