package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/scanhive/scanhive"
	"github.com/scanhive/scanhive/api/middleware"
	"github.com/scanhive/scanhive/config"
)

type Api struct {
	scanhive *scanhive.Scanhive
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	account := middleware.NewAccountMiddleware(a.scanhive).Authenticate()

	router.POST("/scans", account, a.SubmitScan)
	router.GET("/scans/:id", account, a.GetScan)
	router.POST("/scans/:id/cancel", account, a.CancelScan)

	router.GET("/ws/scans/:id", account, a.WatchScan)

	router.GET("/history", account, a.GetHistory)
	router.GET("/history/stats", account, a.GetHistoryStats)
	router.GET("/history/:id", account, a.GetHistoryDetail)
	router.DELETE("/history/:id", account, a.DeleteHistoryEntry)

	router.GET("/credits", account, a.GetCredits)
	router.GET("/collectors", a.GetCollectors)

	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts/:id", a.GetAccount)
	router.GET("/accounts", a.GetAllAccounts)
	router.POST("/accounts/:id/top-up", a.TopUpCredits)

	router.GET("/mocked-account", a.generateMockAccount)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)

	return a.router
}

func NewAPI(s *scanhive.Scanhive) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("scanhive"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{scanhive: s, router: r}
}
