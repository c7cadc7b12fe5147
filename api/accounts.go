package api

import (
	"net/http"
	"strconv"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"

	model2 "github.com/scanhive/scanhive/api/model"
)

func (a Api) CreateAccount(c *gin.Context) {
	var newAccount model2.CreateAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newAccount.ValidateCreateAccount(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.scanhive.CreateAccount(newAccount.ToAccount())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAccount(c *gin.Context) {
	id := c.Param("id")

	account, err := a.scanhive.GetAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) GetAllAccounts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	accounts, err := a.scanhive.GetAllAccounts(limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (a Api) TopUpCredits(c *gin.Context) {
	id := c.Param("id")
	var topUp model2.TopUpCredits
	if err := c.ShouldBindJSON(&topUp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := topUp.ValidateTopUpCredits(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	newBalance, err := a.scanhive.TopUpCredits(c.Request.Context(), id, topUp.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "credits_balance": newBalance})
}

func (a Api) generateMockAccount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":  gofakeit.Name(),
		"email": gofakeit.Email(),
	})
}
