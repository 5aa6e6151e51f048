package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/pkg/utils"
)

// StaticHandler serves files of one storage directory. Directory listings
// are not served.
type StaticHandler struct {
	disk *storage.Disk
	dir  string
}

// NewStaticHandler creates a handler for files under dir.
func NewStaticHandler(disk *storage.Disk, dir string) *StaticHandler {
	return &StaticHandler{disk: disk, dir: dir}
}

// Serve handles GET and HEAD /<dir>/*filepath.
func (h *StaticHandler) Serve(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("filepath"), "/")
	if !utils.ValidateFilename(name) || strings.HasPrefix(name, ".") {
		c.Status(http.StatusNotFound)
		return
	}

	rel := filepath.Join(h.dir, name)
	f, err := h.disk.Open(rel)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}

	c.Header("Content-Type", utils.GetMimeType(name))
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
