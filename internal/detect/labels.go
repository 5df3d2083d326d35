package detect

import (
	"fmt"
	"os"
	"strings"
)

// UnknownLabel はクラス名一覧で解決できなかったクラスIDに割り当てるラベルです。
const UnknownLabel = "Unknown"

// LoadLabels はクラス名一覧ファイルを読み込みます。
// 1行につき1クラス名で、空行は読み飛ばします。
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load class names: %w", err)
	}

	var labels []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	return labels, nil
}

func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return UnknownLabel
}
