package conversation

import (
	"encoding/json"
	"net/http"
)

// UserHeader 调用方身份由上游网关注入
const UserHeader = "X-User-ID"

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写入错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// userID 读取调用方用户 ID，缺失时写入 401 并返回空字符串
func userID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(UserHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
	}
	return id
}
