// Package conversation 会话领域 - HTTP 处理
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"map-agent/internal/ingest"
	"map-agent/internal/orchestrator"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/storage"
)

// MaxUploadBytes 单个图层文件上限
const MaxUploadBytes = 512 << 20

// ConflictMessage 地图已有循环运行时的 409 响应文本
const ConflictMessage = "Map is currently being processed by another request"

// Orchestrator 会话编排能力
type Orchestrator interface {
	Send(ctx context.Context, mapID, userID, content string) (*model.Message, error)
	RequestCancel(ctx context.Context, mapID string) error
	ReadTranscript(ctx context.Context, mapID string) ([]*model.Message, error)
}

// MapStore 地图与图层查询
type MapStore interface {
	CreateMap(ctx context.Context, m *model.Map) error
	GetMap(ctx context.Context, mapID string) (*model.Map, error)
	ListMapLayers(ctx context.Context, mapID string) ([]*model.Layer, error)
}

// Uploader 直接上传图层
type Uploader interface {
	Upload(ctx context.Context, req ingest.UploadRequest) (*model.Layer, error)
}

// Handler 会话领域 HTTP 处理器
type Handler struct {
	orch     Orchestrator
	maps     MapStore
	uploader Uploader
}

// NewHandler 创建会话处理器
func NewHandler(orch Orchestrator, maps MapStore, uploader Uploader) *Handler {
	return &Handler{orch: orch, maps: maps, uploader: uploader}
}

// RegisterRoutes 注册会话相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/maps", h.CreateMap)
	mux.HandleFunc("GET /api/v1/maps/{id}", h.GetMap)
	mux.HandleFunc("POST /api/v1/maps/{id}/messages/send", h.Send)
	mux.HandleFunc("POST /api/v1/maps/{id}/messages/cancel", h.Cancel)
	mux.HandleFunc("GET /api/v1/maps/{id}/messages", h.Messages)
	mux.HandleFunc("GET /api/v1/maps/{id}/layers", h.Layers)
	mux.HandleFunc("POST /api/v1/maps/{id}/layers", h.Upload)
}

// ============================================================================
// 请求类型
// ============================================================================

// CreateMapRequest 创建地图请求体
type CreateMapRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SendRequest 发送消息请求体
type SendRequest struct {
	Content string `json:"content"`
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// CreateMap 创建地图
// POST /api/v1/maps
func (h *Handler) CreateMap(w http.ResponseWriter, r *http.Request) {
	user := userID(w, r)
	if user == "" {
		return
	}
	var req CreateMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	m := &model.Map{
		MapID:       model.NewMapID(),
		OwnerID:     user,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := h.maps.CreateMap(r.Context(), m); err != nil {
		log.Printf("[conversation.map.create_failed] user=%s error=%v", user, err)
		writeError(w, http.StatusInternalServerError, "failed to create map")
		return
	}
	log.Printf("[conversation.map.created] map_id=%s user=%s", m.MapID, user)
	writeJSON(w, http.StatusCreated, m)
}

// GetMap 获取地图
// GET /api/v1/maps/{id}
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.ownedMap(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Send 发送消息并启动编排循环
// POST /api/v1/maps/{id}/messages/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	m, user, ok := h.ownedMap(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := h.orch.Send(r.Context(), m.MapID, user, req.Content)
	if errors.Is(err, orchestrator.ErrConflict) {
		writeError(w, http.StatusConflict, ConflictMessage)
		return
	}
	if err != nil {
		log.Printf("[conversation.send.failed] map_id=%s error=%v", m.MapID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "processing_started",
		"message": msg,
	})
}

// Cancel 请求取消正在运行的编排循环
// POST /api/v1/maps/{id}/messages/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.ownedMap(w, r)
	if !ok {
		return
	}
	if err := h.orch.RequestCancel(r.Context(), m.MapID); err != nil {
		log.Printf("[conversation.cancel.failed] map_id=%s error=%v", m.MapID, err)
		writeError(w, http.StatusInternalServerError, "failed to cancel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel_requested"})
}

// Messages 返回对用户可见的会话记录
// GET /api/v1/maps/{id}/messages
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.ownedMap(w, r)
	if !ok {
		return
	}
	msgs, err := h.orch.ReadTranscript(r.Context(), m.MapID)
	if err != nil {
		log.Printf("[conversation.messages.failed] map_id=%s error=%v", m.MapID, err)
		writeError(w, http.StatusInternalServerError, "failed to read messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"map_id":   m.MapID,
		"messages": msgs,
	})
}

// Layers 返回地图可见图层
// GET /api/v1/maps/{id}/layers
func (h *Handler) Layers(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.ownedMap(w, r)
	if !ok {
		return
	}
	layers, err := h.maps.ListMapLayers(r.Context(), m.MapID)
	if err != nil {
		log.Printf("[conversation.layers.failed] map_id=%s error=%v", m.MapID, err)
		writeError(w, http.StatusInternalServerError, "failed to list layers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"layers": layers})
}

// Upload 直接上传图层文件（multipart 字段 file）
// POST /api/v1/maps/{id}/layers
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	m, user, ok := h.ownedMap(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	layer, err := h.uploader.Upload(r.Context(), ingest.UploadRequest{
		UserID:   user,
		MapID:    m.MapID,
		Filename: header.Filename,
		Reader:   file,
		Size:     header.Size,
	})
	if errors.Is(err, ingest.ErrEmptyFile) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("[conversation.upload.failed] map_id=%s file=%s error=%v", m.MapID, header.Filename, err)
		writeError(w, http.StatusInternalServerError, "failed to upload layer")
		return
	}
	writeJSON(w, http.StatusCreated, layer)
}

// ownedMap 读取路径中的地图并校验归属；失败时已写入响应
func (h *Handler) ownedMap(w http.ResponseWriter, r *http.Request) (*model.Map, string, bool) {
	user := userID(w, r)
	if user == "" {
		return nil, "", false
	}
	mapID := r.PathValue("id")
	m, err := h.maps.GetMap(r.Context(), mapID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && m.OwnerID != user) {
		writeError(w, http.StatusNotFound, "map not found")
		return nil, "", false
	}
	if err != nil {
		log.Printf("[conversation.map.lookup_failed] map_id=%s error=%v", mapID, err)
		writeError(w, http.StatusInternalServerError, "failed to load map")
		return nil, "", false
	}
	return m, user, true
}
