package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"bankledger/models"
	"bankledger/pkg/ledger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func setupRoutes(r *gin.Engine) {
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/deposit", depositHandler)
	authGroup.POST("/withdraw", withdrawHandler)
	authGroup.POST("/transfer", transferHandler)
	authGroup.POST("/sub-accounts", createSubAccountHandler)
	authGroup.DELETE("/sub-accounts/:id", deleteSubAccountHandler)
	authGroup.POST("/sub-accounts/transfer", internalTransferHandler)
	authGroup.GET("/transactions", listTransactionsHandler)
	authGroup.GET("/favorites", listFavoritesHandler)
	authGroup.POST("/favorites", addFavoriteHandler)
	authGroup.DELETE("/favorites/:accountNumber", removeFavoriteHandler)

	admin := authGroup.Group("/admin")
	admin.Use(adminOnly())
	admin.GET("/users", adminListUsersHandler)
	admin.GET("/transactions", adminTransactionsHandler)
	admin.PUT("/users/:userId/status", adminToggleStatusHandler)
	admin.DELETE("/users/:userId", adminDeleteUserHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		userID, _ := claims["sub"].(string)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		role, _ := claims["role"].(string)
		c.Set("userID", userID)
		c.Set("role", role)
		c.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != string(models.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// respondError maps ledger error kinds onto HTTP statuses. Anything without a
// kind is an internal failure and its text is not shown to the client.
func respondError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch ledger.KindOf(err) {
	case ledger.KindNotFound, ledger.KindRecipientNotFound:
		status = http.StatusNotFound
	case ledger.KindAccountFrozen, ledger.KindAdminProtected:
		status = http.StatusForbidden
	case ledger.KindLoginTaken, ledger.KindDuplicateReference:
		status = http.StatusConflict
	case "":
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": ledger.KindOf(err)})
}

func registerHandler(c *gin.Context) {
	var req struct {
		LoginID        string        `json:"loginId" binding:"required"`
		Password       string        `json:"password" binding:"required"`
		RealName       string        `json:"realName" binding:"required"`
		InitialDeposit models.Amount `json:"initialDeposit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := RegisterUser(c.Request.Context(), req.LoginID, req.RealName, req.Password, req.InitialDeposit)
	if err != nil {
		if ledger.KindOf(err) != "" {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully", "accountNumber": user.ID})
}

func loginHandler(c *gin.Context) {
	var req struct {
		LoginID  string `json:"loginId" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	user, err := Authenticate(ctx, req.LoginID, req.Password)
	switch {
	case errors.Is(err, errLoginFrozen):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case errors.Is(err, errInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case err != nil:
		respondError(c, err)
		return
	}
	tokenString, err := issueAccessToken(user, accessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(ctx, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "login successful",
		"token":         tokenString,
		"refresh_token": refreshToken,
		"accountNumber": user.ID,
		"role":          user.Role,
	})
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rt, err := findRefreshTokenByRaw(ctx, req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	user, err := engine.GetUser(ctx, rt.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	if user.IsFrozen() && !user.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": errLoginFrozen.Error()})
		return
	}
	tokenString, err := issueAccessToken(user, accessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate: revoke the presented token and hand out a new one
	if err := db.WithContext(ctx).Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	newRT, err := createAndStoreRefreshToken(ctx, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	rt, err := findRefreshTokenByRaw(ctx, req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.WithContext(ctx).Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

func meHandler(c *gin.Context) {
	sum, err := engine.UserSummary(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func receiptJSON(r *ledger.Receipt) gin.H {
	return gin.H{"transactions": r.Transactions, "subAccounts": r.SubAccounts}
}

type moneyRequest struct {
	SubAccountID string        `json:"subAccountId" binding:"required"`
	Amount       models.Amount `json:"amount"`
}

func depositHandler(c *gin.Context) {
	var req moneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rcpt, err := engine.Deposit(c.Request.Context(), ledger.DepositRequest{
		UserID:       c.GetString("userID"),
		SubAccountID: req.SubAccountID,
		Amount:       req.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptJSON(rcpt))
}

func withdrawHandler(c *gin.Context) {
	var req moneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rcpt, err := engine.Withdraw(c.Request.Context(), ledger.WithdrawRequest{
		UserID:       c.GetString("userID"),
		SubAccountID: req.SubAccountID,
		Amount:       req.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptJSON(rcpt))
}

func transferHandler(c *gin.Context) {
	var req struct {
		ToAccountNumber string        `json:"toAccountNumber" binding:"required"`
		Amount          models.Amount `json:"amount"`
		SaveAsFavorite  bool          `json:"saveAsFavorite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rcpt, err := engine.Transfer(c.Request.Context(), ledger.TransferRequest{
		UserID:                 c.GetString("userID"),
		RecipientAccountNumber: req.ToAccountNumber,
		Amount:                 req.Amount,
		SaveAsFavorite:         req.SaveAsFavorite,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	// the recipient's side is not the caller's business
	c.JSON(http.StatusOK, gin.H{"transaction": rcpt.Transactions[0], "subAccount": rcpt.SubAccounts[0]})
}

func createSubAccountHandler(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub, err := engine.CreateSubAccount(c.Request.Context(), c.GetString("userID"), req.Name, req.Color)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func deleteSubAccountHandler(c *gin.Context) {
	if err := engine.DeleteSubAccount(c.Request.Context(), c.Param("id"), c.GetString("userID")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sub-account deleted"})
}

func internalTransferHandler(c *gin.Context) {
	var req struct {
		FromSubAccountID string        `json:"fromSubAccountId" binding:"required"`
		ToSubAccountID   string        `json:"toSubAccountId" binding:"required"`
		Amount           models.Amount `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rcpt, err := engine.TransferBetweenSubAccounts(c.Request.Context(), ledger.InternalTransferRequest{
		UserID:           c.GetString("userID"),
		FromSubAccountID: req.FromSubAccountID,
		ToSubAccountID:   req.ToSubAccountID,
		Amount:           req.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptJSON(rcpt))
}

func listTransactionsHandler(c *gin.Context) {
	txs, err := engine.History(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func listFavoritesHandler(c *gin.Context) {
	favs, err := engine.ListFavorites(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, favs)
}

func addFavoriteHandler(c *gin.Context) {
	var req struct {
		AccountNumber string `json:"accountNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := engine.AddFavorite(c.Request.Context(), c.GetString("userID"), req.AccountNumber); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "favorite saved"})
}

func removeFavoriteHandler(c *gin.Context) {
	if err := engine.RemoveFavorite(c.Request.Context(), c.GetString("userID"), c.Param("accountNumber")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "favorite removed"})
}

func adminListUsersHandler(c *gin.Context) {
	users, err := engine.ListCustomers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// adminTransactionsHandler lists the whole log; ?limit=N keeps the newest N.
func adminTransactionsHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	txs, err := engine.AllTransactions(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func adminToggleStatusHandler(c *gin.Context) {
	user, err := engine.ToggleStatus(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accountNumber": user.ID, "status": user.Status})
}

func adminDeleteUserHandler(c *gin.Context) {
	if err := engine.DeleteUser(c.Request.Context(), c.Param("userId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}
