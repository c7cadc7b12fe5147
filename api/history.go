package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/scanhive/scanhive/api/model"
	"github.com/scanhive/scanhive/api/middleware"
)

func (a Api) GetHistory(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not resolved"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	status := c.Query("status")

	tasks, total, err := a.scanhive.ListScans(c.Request.Context(), account.AccountID, status, pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	c.JSON(http.StatusOK, model2.HistoryPage{
		Items:    tasks,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pages,
	})
}

func (a Api) GetHistoryDetail(c *gin.Context) {
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
	c.JSON(http.StatusOK, task)
}

func (a Api) DeleteHistoryEntry(c *gin.Context) {
	id := c.Param("id")
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not resolved"})
		return
	}

	if err := a.scanhive.DeleteScan(c.Request.Context(), id, account.AccountID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Scan deleted from history"})
}

func (a Api) GetHistoryStats(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not resolved"})
		return
	}

	stats, err := a.scanhive.Statistics(c.Request.Context(), account.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
