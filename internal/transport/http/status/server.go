// Package statushttp serves the read-only status surface: per-account state,
// open positions, daily counters and realized results. It never accepts
// trading commands; the only mutating route is the operator circuit reset.
package statushttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"armada/internal/logger"
	"armada/internal/position"
	"armada/internal/store"
	"armada/internal/trader"
)

// FleetView is the slice of the fleet the surface reads.
type FleetView interface {
	Status() []trader.AccountStatus
	OpenPositions(accountID string) []position.Position
	ReEnable(accountID string) error
}

// TradeReader is the slice of the history sink the surface reads.
type TradeReader interface {
	RecentTrades(limit int) ([]store.TradeModel, error)
	DailySummary(dayStart time.Time) ([]store.AccountSummary, error)
}

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr     string
	Fleet    FleetView
	Trades   TradeReader
	BrokerTZ *time.Location
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Fleet == nil {
		return nil, errors.New("status http server requires a fleet view")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	loc := cfg.BrokerTZ
	if loc == nil {
		loc = time.UTC
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		accounts := cfg.Fleet.Status()
		out := make([]gin.H, 0, len(accounts))
		for _, acct := range accounts {
			entry := gin.H{
				"id":             acct.ID,
				"strategy":       acct.Strategy,
				"state":          acct.State,
				"open_positions": acct.OpenPositions,
				"open_risk":      acct.OpenRisk,
				"trades_today":   acct.TradesToday,
				"failures_today": acct.Failures,
			}
			if cfg.Trades != nil {
				if summary, err := cfg.Trades.DailySummary(dayStart(loc)); err == nil {
					for _, s := range summary {
						if s.AccountID == acct.ID {
							entry["realized_pnl_today"] = s.PnL
						}
					}
				}
			}
			out = append(out, entry)
		}
		c.JSON(http.StatusOK, gin.H{"accounts": out, "generated_at": time.Now().In(loc)})
	})

	api.GET("/positions/:account", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"positions": cfg.Fleet.OpenPositions(c.Param("account"))})
	})

	if cfg.Trades != nil {
		api.GET("/trades", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			rows, err := cfg.Trades.RecentTrades(limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"trades": rows})
		})
	}

	// operator action, not a trading command
	api.POST("/accounts/:account/reenable", func(c *gin.Context) {
		if err := cfg.Fleet.ReEnable(c.Param("account")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

func dayStart(loc *time.Location) time.Time {
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx cancellation or a listen error.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
