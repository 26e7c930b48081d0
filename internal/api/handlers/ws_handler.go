package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/meetscribe/voice-service/internal/hub"
	"github.com/meetscribe/voice-service/internal/metrics"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket 实时状态流。连接即下发 connected；
// 客户端可发 {type:"subscribe", file_id} 订阅单个文件。
func (h *VoiceHandler) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := hub.NewSession(h.cfg.Hub.SessionBuffer)
	h.hub.Attach(session)
	metrics.WebsocketConnections.Inc()
	defer func() {
		h.hub.Detach(session)
		metrics.WebsocketConnections.Dec()
		conn.Close()
	}()

	session.Send(hub.StatusMessage{Type: "connected"})

	// 写协程：出站队列关闭即收尾并断开读端
	go func() {
		for msg := range session.Outbound() {
			if err := conn.WriteJSON(msg); err != nil {
				break
			}
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ctl hub.ControlMessage
		if err := json.Unmarshal(data, &ctl); err != nil {
			// 畸形控制消息静默忽略
			continue
		}
		switch ctl.Type {
		case "subscribe":
			if ctl.FileID == "" {
				continue
			}
			session.Subscribe(ctl.FileID)
			session.Send(hub.StatusMessage{Type: "subscribed", FileID: ctl.FileID})
		case "unsubscribe":
			if ctl.FileID != "" {
				session.Unsubscribe(ctl.FileID)
			}
		}
	}
}

// Health 存活检查。模型未加载不降级，可选外部服务不参与判定。
func (h *VoiceHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                "healthy",
		"service":               "voice-transcription",
		"model_loaded":          h.cfg.Runner.BaseURL != "",
		"active_jobs":           h.reg.ProcessingCount(),
		"websocket_connections": h.hub.SessionCount(),
	})
}
