// Package storage はアップロードファイルの検証と保存を提供します。
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrUnsupportedType は受け付けていないファイル形式を示します。
var ErrUnsupportedType = errors.New("unsupported file type")

// MediaClass は受け付けるメディアの大分類です。
type MediaClass string

const (
	ClassImage MediaClass = "image"
	ClassVideo MediaClass = "video"
)

var allowedExts = map[MediaClass]map[string]bool{
	ClassImage: {".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true},
	ClassVideo: {".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".flv": true, ".wmv": true},
}

// StoredFile は保存済みのアップロードファイルです。
type StoredFile struct {
	Path string // 保存先の絶対または相対パス
	Name string // 保存時のファイル名
	Size int64  // バイト数
}

// LocalStore はアップロードファイルをローカルディレクトリーへ保存します。
type LocalStore struct {
	dir string
}

// NewLocalStore は保存先ディレクトリーを作成し、LocalStore を返します。
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir は保存先ディレクトリーを返します。
func (s *LocalStore) Dir() string { return s.dir }

// Allowed はファイル名の拡張子が分類で受け付け可能かを返します。
func Allowed(filename string, class MediaClass) bool {
	return allowedExts[class][strings.ToLower(filepath.Ext(filename))]
}

// AllowedExtensions は分類で受け付ける拡張子の一覧をソート順で返します。
func AllowedExtensions(class MediaClass) []string {
	exts := make([]string, 0, len(allowedExts[class]))
	for ext := range allowedExts[class] {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(exts)
	return exts
}

// Save はアップロードされたファイルを検証して保存します。
// 拡張子と内容のMIMEタイプの両方を分類と照合し、
// 衝突しないファイル名（元名_ランダム8文字.拡張子）で書き出します。
func (s *LocalStore) Save(r io.ReadSeeker, filename string, class MediaClass) (*StoredFile, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExts[class][ext] {
		return nil, fmt.Errorf("%w: allowed extensions are %s",
			ErrUnsupportedType, strings.Join(AllowedExtensions(class), ", "))
	}

	mime, err := mimetype.DetectReader(r)
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	if !strings.HasPrefix(mime.String(), string(class)+"/") {
		return nil, fmt.Errorf("%w: content detected as %s", ErrUnsupportedType, mime.String())
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	base := sanitizeName(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	name := fmt.Sprintf("%s_%s%s", base, uuid.NewString()[:8], ext)
	path := filepath.Join(s.dir, name)

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	size, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write upload file: %w", err)
	}

	return &StoredFile{Path: path, Name: name, Size: size}, nil
}

// sanitizeName はファイル名を英数字とハイフン、アンダースコアだけに置き換えます。
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}

// AnnotatedPath は入力ファイルと同じディレクトリーに置く注釈付き出力のパスを返します。
func AnnotatedPath(inputPath string) string {
	return filepath.Join(filepath.Dir(inputPath), "annotated_"+filepath.Base(inputPath))
}
