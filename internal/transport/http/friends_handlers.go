package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cliptube/signal-server/internal/store"
)

// FriendHandlers provides HTTP handlers for the friend list.
type FriendHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewFriendHandlers creates a new friend handlers instance.
func NewFriendHandlers(st store.Store, logger *zerolog.Logger) *FriendHandlers {
	return &FriendHandlers{
		store: st,
		log:   logger,
	}
}

// AddFriendRequest identifies the friend to add by email.
type AddFriendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// List returns the authenticated user's friends.
// GET /api/friends
func (h *FriendHandlers) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	friends, err := h.store.ListFriends(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to list friends")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(friends))
	for _, f := range friends {
		response = append(response, UserResponse{
			ID:        f.ID,
			Name:      f.Name,
			Email:     f.Email,
			AvatarURL: f.AvatarURL,
		})
	}

	c.JSON(http.StatusOK, response)
}

// Add adds a friend by email and returns the updated list.
// POST /api/friends
func (h *FriendHandlers) Add(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req AddFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid add friend request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()

	friend, err := h.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no user with that email"})
			return
		}
		h.log.Error().Err(err).Msg("failed to look up user by email")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if friend.ID == userID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot add yourself"})
		return
	}

	if err := h.store.AddFriend(ctx, userID, friend.ID); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("friend_id", friend.ID).Msg("failed to add friend")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.List(c)
}

// Remove deletes a friendship and returns the updated list.
// DELETE /api/friends/:friendId
func (h *FriendHandlers) Remove(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	friendID := c.Param("friendId")

	if err := h.store.RemoveFriend(c.Request.Context(), userID, friendID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "friendship not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Str("friend_id", friendID).Msg("failed to remove friend")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.List(c)
}
