package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"tradesim/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type setBalanceRequest struct {
	Username string          `json:"username"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type banRequest struct {
	Username string `json:"username"`
	Ban      bool   `json:"ban"`
}

// ListUsers handles GET /api/admin/users. Credentials never leave the ledger
// because domain.Account does not serialize them.
func (s *Server) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, s.Ledger.Accounts())
}

// SetBalance handles POST /api/admin/set-balance.
func (s *Server) SetBalance(c *gin.Context) {
	var req setBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	ev, err := s.Ledger.SetBalance(req.Username, req.Currency, req.Amount, auth.AdminUsername)
	if err != nil {
		s.abort(c, err)
		return
	}
	slog.Info("balance set by admin",
		slog.String("account", req.Username),
		slog.String("currency", req.Currency),
		slog.String("amount", req.Amount.String()),
	)
	c.JSON(http.StatusOK, ev)
}

// Ban handles POST /api/admin/ban. Banning also stops the account's bots.
func (s *Server) Ban(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.Ledger.SetSuspended(req.Username, req.Ban); err != nil {
		s.abort(c, err)
		return
	}
	stopped := 0
	if req.Ban {
		stopped = s.Bots.StopAccount(req.Username)
	}
	slog.Info("suspension changed", slog.String("account", req.Username), slog.Bool("banned", req.Ban), slog.Int("bots_stopped", stopped))
	c.JSON(http.StatusOK, gin.H{"username": req.Username, "banned": req.Ban, "bots_stopped": stopped})
}

// GetUserChat handles GET /api/admin/chat/:username.
func (s *Server) GetUserChat(c *gin.Context) {
	username := c.Param("username")
	if _, err := s.Ledger.Account(username); err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Desk.Conversation(username))
}

// ReplyChat handles POST /api/admin/chat/:username.
func (s *Server) ReplyChat(c *gin.Context) {
	username := c.Param("username")
	if _, err := s.Ledger.Account(username); err != nil {
		s.abort(c, err)
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	m, err := s.Desk.Reply(username, req.Text)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}
