package media

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
)

// ImageSource は1枚の画像を単一フレームとして供給します。
type ImageSource struct {
	frame *Frame
	done  bool
}

// OpenImage は画像ファイルをフレーム入力として開きます。
func OpenImage(path string) (*ImageSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}

	return &ImageSource{frame: FrameFromImage(0, img)}, nil
}

// Next は画像フレームを1回だけ返し、以降は io.EOF を返します。
func (s *ImageSource) Next() (*Frame, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.frame, nil
}

// Meta はストリーム情報を返します。静止画のためFPSは0です。
func (s *ImageSource) Meta() StreamMeta {
	return StreamMeta{
		Width:       s.frame.Width,
		Height:      s.frame.Height,
		TotalFrames: 1,
	}
}

// Close は入力を解放します。
func (s *ImageSource) Close() error {
	s.frame = nil
	s.done = true
	return nil
}

// ImageSink は単一フレームを画像ファイルとして書き出します。
// 出力ファイルは Close 時にのみ作成されます。
type ImageSink struct {
	path   string
	frame  *Frame
	closed bool
}

// CreateImageSink は出力画像の書き出し先を作成します。
// 出力形式はパスの拡張子で決まります。
func CreateImageSink(path string) (*ImageSink, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp":
	default:
		return nil, fmt.Errorf("unsupported image extension: %s", filepath.Ext(path))
	}
	return &ImageSink{path: path}, nil
}

// Write はフレームを受け取ります。受け付けるのは1フレームのみです。
func (s *ImageSink) Write(f *Frame) error {
	if s.closed {
		return fmt.Errorf("image sink is closed")
	}
	if s.frame != nil {
		return fmt.Errorf("image sink accepts exactly one frame")
	}
	s.frame = f
	return nil
}

// Close はフレームをエンコードしてファイルへ書き出します。
func (s *ImageSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.frame == nil {
		return fmt.Errorf("no frame was written")
	}

	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create image %s: %w", filepath.Base(s.path), err)
	}

	if err := encodeImage(file, s.path, s.frame.Image()); err != nil {
		file.Close()
		_ = os.Remove(s.path)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(s.path)
		return fmt.Errorf("write image %s: %w", filepath.Base(s.path), err)
	}
	return nil
}

// Discard は書き込みを中断し、出力ファイルが存在すれば削除します。
func (s *ImageSink) Discard() error {
	s.closed = true
	s.frame = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func encodeImage(w io.Writer, path string, img image.Image) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(w, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case ".gif":
		err = gif.Encode(w, img, nil)
	case ".bmp":
		err = bmp.Encode(w, img)
	default:
		return fmt.Errorf("unsupported image extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("encode image %s: %w", filepath.Base(path), err)
	}
	return nil
}
