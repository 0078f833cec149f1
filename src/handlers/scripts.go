package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/metrics"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/services"
)

const (
	luaContentType = "text/plain; charset=utf-8"

	noActiveScriptBody  = "return print('no script configured')"
	scriptNotFoundBody  = "-- script not found"
	scriptFailureBody   = "-- temporarily unavailable"
	scriptBodyOverhead  = 64 << 10
	downloadFilename    = "script.lua"
	multipartScriptFile = "file"
)

// ScriptHandler serves hosted scripts publicly and manages them for operators
type ScriptHandler struct {
	scripts *services.ScriptService
}

// NewScriptHandler creates a new script handler
func NewScriptHandler(scripts *services.ScriptService) *ScriptHandler {
	return &ScriptHandler{scripts: scripts}
}

// HandleActiveScript serves the active script as plain text
func (sh *ScriptHandler) HandleActiveScript(c *gin.Context) {
	sc, err := sh.scripts.Active(c.Request.Context())
	sh.serve(c, "active", sc, err, noActiveScriptBody)
}

// HandleScriptByToken serves any script by its public token
func (sh *ScriptHandler) HandleScriptByToken(c *gin.Context) {
	sc, err := sh.scripts.ByToken(c.Request.Context(), c.Param("token"))
	sh.serve(c, "token", sc, err, scriptNotFoundBody)
}

func (sh *ScriptHandler) serve(c *gin.Context, route string, sc *models.Script, err error, missing string) {
	c.Header("Cache-Control", "no-store")
	switch {
	case err != nil:
		metrics.ScriptServesTotal.WithLabelValues(route, "error").Inc()
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Failed to load script")
		c.Data(http.StatusServiceUnavailable, luaContentType, []byte(scriptFailureBody))
	case sc == nil:
		metrics.ScriptServesTotal.WithLabelValues(route, "missing").Inc()
		c.Data(http.StatusNotFound, luaContentType, []byte(missing))
	default:
		metrics.ScriptServesTotal.WithLabelValues(route, "served").Inc()
		c.Data(http.StatusOK, luaContentType, []byte(sc.Source))
	}
}

// HandleListScripts returns script summaries, newest first
func (sh *ScriptHandler) HandleListScripts(c *gin.Context) {
	list, err := sh.scripts.List(c.Request.Context())
	if err != nil {
		scriptStoreError(c, err, "failed to list scripts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": list, "count": len(list)})
}

// HandleGetScript returns one script with its body
func (sh *ScriptHandler) HandleGetScript(c *gin.Context) {
	sc, err := sh.scripts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		scriptError(c, err, "failed to load script")
		return
	}
	c.JSON(http.StatusOK, sc)
}

// CreateScriptRequest represents a new script
type CreateScriptRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// HandleCreateScript stores a script and makes it active. It accepts JSON or
// a multipart upload with the body in the "file" field.
func (sh *ScriptHandler) HandleCreateScript(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxScriptBytes+scriptBodyOverhead)

	var req CreateScriptRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile(multipartScriptFile)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing script file"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable script file"})
			return
		}
		defer f.Close()
		body, err := io.ReadAll(io.LimitReader(f, services.MaxScriptBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable script file"})
			return
		}
		req = CreateScriptRequest{
			Name:        c.DefaultPostForm("name", fh.Filename),
			Description: c.PostForm("description"),
			Content:     string(body),
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sc, err := sh.scripts.Create(c.Request.Context(), services.ScriptInput{
		Name:        req.Name,
		Description: req.Description,
		Source:      req.Content,
	})
	if err != nil {
		scriptError(c, err, "failed to create script")
		return
	}
	c.JSON(http.StatusCreated, sc)
}

// HandleUpdateScript edits name, description or content
func (sh *ScriptHandler) HandleUpdateScript(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxScriptBytes+scriptBodyOverhead)

	var patch services.ScriptPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sc, err := sh.scripts.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		scriptError(c, err, "failed to update script")
		return
	}
	c.JSON(http.StatusOK, sc)
}

// HandleActivateScript makes one script the active one
func (sh *ScriptHandler) HandleActivateScript(c *gin.Context) {
	if err := sh.scripts.Activate(c.Request.Context(), c.Param("id")); err != nil {
		scriptError(c, err, "failed to activate script")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "activated"})
}

// HandleDeactivateScripts stops serving any script at the stable path
func (sh *ScriptHandler) HandleDeactivateScripts(c *gin.Context) {
	if err := sh.scripts.DeactivateAll(c.Request.Context()); err != nil {
		scriptStoreError(c, err, "failed to deactivate scripts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// HandleDeleteScript removes a script
func (sh *ScriptHandler) HandleDeleteScript(c *gin.Context) {
	if err := sh.scripts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		scriptError(c, err, "failed to delete script")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleDownloadScript sends the active script as an attachment
func (sh *ScriptHandler) HandleDownloadScript(c *gin.Context) {
	sc, err := sh.scripts.Active(c.Request.Context())
	if err != nil {
		scriptStoreError(c, err, "failed to load script")
		return
	}
	if sc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active script"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+downloadFilename+`"`)
	c.Data(http.StatusOK, luaContentType, []byte(sc.Source))
}

func scriptError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrScriptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
	case errors.Is(err, services.ErrInvalidScript):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		scriptStoreError(c, err, msg)
	}
}

func scriptStoreError(c *gin.Context, err error, msg string) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg(msg)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg})
}
