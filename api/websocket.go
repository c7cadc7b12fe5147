package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/scanhive/scanhive/api/middleware"
	"github.com/scanhive/scanhive/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from app origins we do not control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchScan upgrades the connection to a websocket and streams the scan's
// lifecycle events until a terminal event, a client disconnect, or server
// shutdown. The scan must exist and belong to the calling account before
// the upgrade happens.
func (a Api) WatchScan(c *gin.Context) {
	id := c.Param("id")
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not resolved"})
		return
	}

	task, err := a.scanhive.GetScan(c.Request.Context(), id, account.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("websocket upgrade failed for scan %s: %v", id, err)
		return
	}

	if err := conn.WriteJSON(gin.H{"type": "connected", "scan_id": task.ScanID, "status": task.Status}); err != nil {
		_ = conn.Close()
		return
	}

	// A terminal scan has nothing more to say; the record in the ack is all.
	if model.IsTerminalStatus(task.Status) {
		_ = conn.Close()
		return
	}

	gateway := a.scanhive.Gateway()
	if err := gateway.Register(task.ScanID, conn); err != nil {
		logrus.Errorf("failed to register viewer for scan %s: %v", task.ScanID, err)
		_ = conn.Close()
		return
	}

	// Block on reads to notice client disconnects. Inbound frames carry no
	// meaning; the stream is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	gateway.Unregister(task.ScanID, conn)
	_ = conn.Close()
}
