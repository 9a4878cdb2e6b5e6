package api

import (
	"net/http"

	"github.com/dmitrymomot/filevault/internal/fsgraph"
	"github.com/dmitrymomot/filevault/internal/web"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

func (a *API) listFolder(c web.Context) error {
	limit := web.QueryDefault(c, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := max(web.QueryDefault(c, "offset", 0), 0)

	l, err := a.svc.Files.ListFolder(c, tenantID(c), optionalID(c.Query("parent")), fsgraph.Filter{
		Starred: web.QueryFlag(c, "starred"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"folder": l.Folder, "folders": l.Folders, "files": l.Files})
}

type createFolderRequest struct {
	ParentID *string `json:"parent_id"`
	Name     string  `json:"name"`
}

func (a *API) createFolder(c web.Context) error {
	var req createFolderRequest
	if err := c.BindJSON(&req); err != nil {
		return err
	}
	var parent *string
	if req.ParentID != nil {
		parent = optionalID(*req.ParentID)
	}
	f, err := a.svc.Files.CreateFolder(c, tenantID(c), req.Name, parent)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, map[string]any{"folder": f})
}

func (a *API) deleteFolder(c web.Context) error {
	if err := a.svc.Files.DeleteFolder(c, tenantID(c), c.Param("id")); err != nil {
		return err
	}
	return ok(c, http.StatusOK, nil)
}
