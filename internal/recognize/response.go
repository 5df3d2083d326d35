package recognize

import (
	"time"

	"github.com/gin-gonic/gin"
)

// respondSuccess は成功レスポンスを共通フォーマットで返します。
// data が nil の場合は data フィールドを含めません。
func respondSuccess(c *gin.Context, status int, data any) {
	body := gin.H{
		"success":   true,
		"message":   "Success",
		"timestamp": timestampNow(),
	}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// respondError はエラーレスポンスを共通フォーマットで返します。
func respondError(c *gin.Context, status int, code, message string) {
	body := gin.H{
		"success":   false,
		"message":   message,
		"timestamp": timestampNow(),
	}
	if code != "" {
		body["error_code"] = code
	}
	c.JSON(status, body)
}

func timestampNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
