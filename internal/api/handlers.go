package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"token-manager/internal/auth"
	"token-manager/internal/models"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	res, err := s.Ledger.Authenticate(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	tok, err := auth.SignJWT(s.Secret, res.Username, res.Role, s.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":         tok,
		"username":      res.Username,
		"role":          res.Role,
		"info_required": res.InfoRequired,
	})
}

type tokenResponse struct {
	ID string `json:"id"`
	*models.Token
}

type addTokenReq struct {
	Token string `json:"token" binding:"required"`
	Owner string `json:"owner"`
}

// owner resolves who a contribution is credited to. Only admins may add on
// behalf of someone else.
func owner(c *gin.Context, requested string) (string, bool) {
	username, role := caller(c)
	if requested == "" || requested == username {
		return username, true
	}
	if role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return requested, true
}

func (s *Server) addToken(c *gin.Context) {
	var req addTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	who, ok := owner(c, req.Owner)
	if !ok {
		return
	}
	actor, _ := caller(c)
	rec, err := s.Ledger.AddToken(c.Request.Context(), req.Token, who, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse{ID: rec.ID, Token: rec})
}

type bulkReq struct {
	Text  string `json:"text" binding:"required"`
	Owner string `json:"owner"`
}

func (s *Server) addBulkTokens(c *gin.Context) {
	var req bulkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	who, ok := owner(c, req.Owner)
	if !ok {
		return
	}
	actor, _ := caller(c)
	res, err := s.Ledger.AddBulkTokens(c.Request.Context(), req.Text, who, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) availableCount(c *gin.Context) {
	n, err := s.Ledger.AvailableCount(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": n})
}

type takeReq struct {
	Count int `json:"count"`
}

func (s *Server) takeTokens(c *gin.Context) {
	var req takeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := caller(c)
	res, err := s.Ledger.TakeTokens(c.Request.Context(), req.Count, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type banReq struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) banTokens(c *gin.Context) {
	var req banReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := caller(c)
	res, err := s.Ledger.BanTokens(c.Request.Context(), req.Text, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) checkToken(c *gin.Context) {
	info, err := s.Ledger.CheckTokenOwner(c.Request.Context(), c.Query("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.Ledger.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type userResponse struct {
	Username string `json:"username"`
	models.User
}

func newUserResponse(u models.User) userResponse {
	u.Password = ""
	return userResponse{Username: u.Username, User: u}
}

type createUserReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := caller(c)
	u, err := s.Ledger.AddUser(c.Request.Context(), req.Username, req.Password, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserResponse(*u))
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.Ledger.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, newUserResponse(u))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getUser(c *gin.Context) {
	username, ok := selfOrAdmin(c)
	if !ok {
		return
	}
	u, err := s.Ledger.UserStats(c.Request.Context(), username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(*u))
}

func (s *Server) updateUserInfo(c *gin.Context) {
	username, ok := selfOrAdmin(c)
	if !ok {
		return
	}
	var info models.PersonalInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Ledger.UpdateUserInfo(c.Request.Context(), username, info); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type passwordReq struct {
	Password string `json:"password"`
}

func (s *Server) updatePassword(c *gin.Context) {
	username, ok := selfOrAdmin(c)
	if !ok {
		return
	}
	var req passwordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Ledger.UpdatePassword(c.Request.Context(), username, req.Password); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteUser(c *gin.Context) {
	actor, _ := caller(c)
	if err := s.Ledger.DeleteUser(c.Request.Context(), c.Param("username"), actor); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) reconcile(c *gin.Context) {
	actor, _ := caller(c)
	drifts, err := s.Ledger.Reconcile(c.Request.Context(), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": drifts})
}

type priceReq struct {
	Price int64 `json:"price"`
}

func (s *Server) updatePrice(c *gin.Context) {
	var req priceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := caller(c)
	if err := s.Ledger.UpdatePrice(c.Request.Context(), req.Price, actor); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateAdminPassword(c *gin.Context) {
	var req passwordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := caller(c)
	if err := s.Ledger.UpdateAdminPassword(c.Request.Context(), req.Password, actor); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setOnline(c *gin.Context) {
	username, _ := caller(c)
	if err := s.Presence.SetOnline(c.Request.Context(), username); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setOffline(c *gin.Context) {
	username, _ := caller(c)
	if err := s.Presence.SetOffline(c.Request.Context(), username); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) onlineUsers(c *gin.Context) {
	users, err := s.Presence.OnlineUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func queryLimit(c *gin.Context, fallback int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// listChat returns the recent chat. Targeted messages are only shown to their
// target and to admins.
func (s *Server) listChat(c *gin.Context) {
	msgs, err := s.Sink.Messages(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		writeError(c, err)
		return
	}
	username, role := caller(c)
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Target != "" && m.Target != username && role != models.RoleAdmin {
			continue
		}
		out = append(out, m)
	}
	c.JSON(http.StatusOK, out)
}

type chatReq struct {
	Message string `json:"message"`
}

func (s *Server) sendChat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	username, _ := caller(c)
	if err := s.Sink.SendChat(c.Request.Context(), username, req.Message); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) activity(c *gin.Context) {
	logs, err := s.Sink.Logs(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
