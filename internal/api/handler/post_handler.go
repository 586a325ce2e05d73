package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/livepost/internal/service"
	"github.com/d60-Lab/livepost/pkg/response"
)

type postRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreatePost 创建帖子
// @Summary 创建帖子
// @Description 持久化成功后向所有连接广播 postCreated
// @Tags posts
// @Accept json
// @Produce json
// @Param request body postRequest true "帖子内容"
// @Success 200 {object} model.Post
// @Failure 400 {object} response.ErrorBody
// @Failure 500 {object} response.ErrorBody
// @Router /posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}
	post, err := h.postService.Create(c.Request.Context(), req.Title, req.Content)
	if err != nil {
		response.InternalError(c, err, "Failed to create post")
		return
	}
	response.Success(c, post)
}

// ListPosts 查询全部帖子
// @Summary 帖子列表
// @Tags posts
// @Produce json
// @Success 200 {array} model.Post
// @Failure 500 {object} response.ErrorBody
// @Router /posts [get]
func (h *Handler) ListPosts(c *gin.Context) {
	posts, err := h.postService.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, err, "Failed to fetch posts")
		return
	}
	response.Success(c, posts)
}

// UpdatePost 更新帖子
// @Summary 更新帖子
// @Description 持久化成功后向所有连接广播 postUpdated
// @Tags posts
// @Accept json
// @Produce json
// @Param id path int true "帖子ID"
// @Param request body postRequest true "帖子内容"
// @Success 200 {object} model.Post
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Failure 500 {object} response.ErrorBody
// @Router /posts/{id} [put]
func (h *Handler) UpdatePost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}
	post, err := h.postService.Update(c.Request.Context(), id, req.Title, req.Content)
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			response.NotFound(c, "Post not found")
			return
		}
		response.InternalError(c, err, "Failed to update post")
		return
	}
	response.Success(c, post)
}

// DeletePost 删除帖子
// @Summary 删除帖子
// @Description 持久化成功后向所有连接广播 postDeleted（仅 id）
// @Tags posts
// @Produce json
// @Param id path int true "帖子ID"
// @Success 200 {object} response.DeleteResult
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Failure 500 {object} response.ErrorBody
// @Router /posts/{id} [delete]
func (h *Handler) DeletePost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	deleted, err := h.postService.Delete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			response.NotFound(c, "Post not found")
			return
		}
		response.InternalError(c, err, "Failed to delete post")
		return
	}
	response.Success(c, response.DeleteResult{Success: true, ID: deleted})
}

func postID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid post id")
		return 0, false
	}
	return id, true
}

// bindingMessage 把校验错误转换为可读信息
func bindingMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return strings.Join(msgs, "; ")
	}
	return "Invalid request body"
}
