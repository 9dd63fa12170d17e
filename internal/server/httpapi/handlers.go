package httpapi

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/gin-gonic/gin"
)

// optionalID parses an optional positive id; "" and "null" mean none.
func optionalID(raw string) (*int64, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid id %q", raw)
	}
	return &id, nil
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func formInt(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.PostForm(key), 10, 64)
	if err != nil {
		badRequest(c, key+" must be an integer")
		return 0, false
	}
	return v, true
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

func (s *Server) uploadChunk(c *gin.Context) {
	user := currentUser(c)

	fh, err := c.FormFile("chunk")
	if err != nil {
		badRequest(c, "chunk is required")
		return
	}
	idx, ok := formInt(c, "chunkIndex")
	if !ok {
		return
	}
	total, ok := formInt(c, "totalChunks")
	if !ok {
		return
	}
	size, ok := formInt(c, "fileSize")
	if !ok {
		return
	}
	dirID, err := optionalID(c.PostForm("directoryId"))
	if err != nil {
		badRequest(c, "invalid directoryId")
		return
	}

	body, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer body.Close()

	res, err := s.svc.Uploads.UploadChunk(c.Request.Context(), user.ID, &services.ChunkRequest{
		UploadID:    c.PostForm("uploadId"),
		ChunkIndex:  int(idx),
		TotalChunks: int(total),
		FileName:    c.PostForm("fileName"),
		FileSize:    size,
		DirectoryID: dirID,
		Body:        body,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"success": true, "received": res.Received, "total": res.Total, "completed": res.Completed}
	if res.File != nil {
		resp["file"] = res.File
	}
	c.JSON(http.StatusOK, resp)
}

type cancelRequest struct {
	UploadID string `json:"upload_id" binding:"required"`
}

func (s *Server) cancelUpload(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "upload_id is required")
		return
	}
	if err := s.svc.Uploads.CancelUpload(c.Request.Context(), currentUser(c).ID, req.UploadID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) uploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	dirID, err := optionalID(c.PostForm("directoryId"))
	if err != nil {
		badRequest(c, "invalid directoryId")
		return
	}

	body, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer body.Close()

	f, err := s.svc.Uploads.UploadFile(c.Request.Context(), currentUser(c).ID, dirID, fh.Filename, fh.Size, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "file": f})
}

func (s *Server) list(c *gin.Context) {
	dirID, err := optionalID(c.Query("dir_id"))
	if err != nil {
		badRequest(c, "invalid dir_id")
		return
	}
	l, err := s.svc.Tree.List(c.Request.Context(), currentUser(c).ID, dirID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"files":       l.Files,
		"directories": l.Directories,
		"breadcrumbs": l.Breadcrumbs,
		"user":        l.User,
		"quota":       l.Quota,
	})
}

func (s *Server) downloadFile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	f, body, err := s.svc.Tree.OpenFile(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	defer body.Close()

	c.Header("Content-Disposition", attachment(f.Filename))
	c.Header(common.FilenameHeader, f.Filename)
	http.ServeContent(c.Writer, c.Request, f.Filename, f.UploadTime, body)
}

func (s *Server) deleteFile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.Deletion.DeleteFile(c.Request.Context(), currentUser(c).ID, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type createDirectoryRequest struct {
	Name     string `json:"name" binding:"required"`
	ParentID *int64 `json:"parent_id"`
}

func (s *Server) createDirectory(c *gin.Context) {
	var req createDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	d, err := s.svc.Tree.CreateDirectory(c.Request.Context(), currentUser(c).ID, req.ParentID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "directory": d})
}

func (s *Server) deleteDirectory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	stats, err := s.svc.Deletion.DeleteDirectory(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

type selectionRequest struct {
	FileIDs []int64 `json:"file_ids"`
	DirIDs  []int64 `json:"dir_ids"`
}

func (s *Server) deleteBatch(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid selection")
		return
	}
	stats, err := s.svc.Deletion.DeleteBatch(c.Request.Context(), currentUser(c).ID, req.FileIDs, req.DirIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (s *Server) downloadArchive(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid selection")
		return
	}
	a, err := s.svc.Archives.Prepare(c.Request.Context(), currentUser(c).ID, req.FileIDs, req.DirIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	s.streamArchive(c, a)
}

func (s *Server) streamArchive(c *gin.Context, a *services.Archive) {
	defer a.Close()

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", attachment(a.Name))
	c.Header(common.FilenameHeader, a.Name)
	c.Status(http.StatusOK)

	// Headers are already out, so a failure can only cut the stream short.
	if _, err := a.WriteTo(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

type shareRequest struct {
	ObjectType     string  `json:"object_type" binding:"required,oneof=file directory"`
	ObjectID       int64   `json:"object_id" binding:"required,gt=0"`
	Password       *string `json:"password"`
	ExpiresInHours *int    `json:"expires_in_hours"`
	Revoke         bool    `json:"revoke"`
}

func (s *Server) toggleShare(c *gin.Context) {
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "object_type and object_id are required")
		return
	}
	res, err := s.svc.Shares.ToggleShare(c.Request.Context(), currentUser(c).ID, services.ShareRequest{
		ObjectType:     req.ObjectType,
		ObjectID:       req.ObjectID,
		Password:       req.Password,
		ExpiresInHours: req.ExpiresInHours,
		Revoke:         req.Revoke,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "share": res})
}

func sharePassword(c *gin.Context) string {
	if p := c.PostForm("password"); p != "" {
		return p
	}
	if p := c.Query("password"); p != "" {
		return p
	}
	return c.GetHeader(common.SharePasswordHeader)
}

func (s *Server) publicFetch(c *gin.Context) {
	obj, err := s.svc.Shares.PublicFetch(c.Request.Context(), c.Param("key"), sharePassword(c))
	if err != nil {
		writeError(c, err)
		return
	}

	if obj.Archive != nil {
		s.streamArchive(c, obj.Archive)
		return
	}
	defer obj.Close()

	c.Header("Content-Disposition", attachment(obj.File.Filename))
	c.Header(common.FilenameHeader, obj.File.Filename)
	http.ServeContent(c.Writer, c.Request, obj.File.Filename, obj.File.UploadTime, obj.Body)
}

func (s *Server) userInfo(c *gin.Context) {
	u := currentUser(c)
	info, err := s.svc.Users.GetUserInfo(c.Request.Context(), u, u.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": info})
}

func (s *Server) userInfoByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	info, err := s.svc.Users.GetUserInfo(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": info})
}
