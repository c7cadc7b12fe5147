package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/scanhive/scanhive/api/model"
	"github.com/scanhive/scanhive/api/middleware"
)

func (a Api) SubmitScan(c *gin.Context) {
	var newScan model2.SubmitScan
	if err := c.ShouldBindJSON(&newScan); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newScan.ValidateSubmitScan(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	account, ok := middleware.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not resolved"})
		return
	}

	task, remaining, err := a.scanhive.SubmitScan(c.Request.Context(), account.AccountID,
		newScan.Target, newScan.Collector, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model2.SubmitScanResponse{
		ScanID:           task.ScanID,
		Status:           task.Status,
		Target:           task.Target,
		Collector:        task.Collector,
		Cost:             task.CreditsCharged,
		CreditsRemaining: remaining,
	})
}

func (a Api) GetScan(c *gin.Context) {
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

func (a Api) CancelScan(c *gin.Context) {
	id := c.Param("id")
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not resolved"})
		return
	}

	task, err := a.scanhive.CancelScan(c.Request.Context(), id, account.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Scan cancelled. Credits are not refunded.",
		"scan":    task,
	})
}

func (a Api) GetCollectors(c *gin.Context) {
	registry := a.scanhive.Registry()
	catalog := registry.Describe()
	collectors := make([]gin.H, 0, len(catalog))
	for _, name := range registry.List() {
		collectors = append(collectors, gin.H{"name": name, "description": catalog[name]})
	}
	c.JSON(http.StatusOK, gin.H{"collectors": collectors})
}

func (a Api) GetCredits(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not resolved"})
		return
	}

	// The middleware's copy may be stale; read the balance fresh.
	balance, err := a.scanhive.GetCredits(c.Request.Context(), account.AccountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": account.AccountID, "credits_balance": balance})
}
