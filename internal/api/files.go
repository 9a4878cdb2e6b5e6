package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/sharing"
	"github.com/dmitrymomot/filevault/internal/upload"
	"github.com/dmitrymomot/filevault/internal/web"
)

const (
	// multipartMemory is kept in memory; larger parts spill to disk.
	multipartMemory = 32 << 20
	// multipartOverhead covers boundaries and the folder_id field.
	multipartOverhead = 1 << 20
)

func (a *API) uploadFile(c web.Context) error {
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, a.svc.Uploads.MaxSize()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return core.WithMessage(core.ErrFileTooLarge, "File exceeds the upload limit")
		}
		return core.Invalid("Expected a multipart form with a file field")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := c.FormFile("file")
	if err != nil {
		return core.Invalid("No file selected")
	}
	defer file.Close()

	f, err := a.svc.Uploads.Upload(c, upload.Params{
		Body:        file,
		FolderID:    optionalID(c.Form("folder_id")),
		OwnerID:     tenantID(c),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	})
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, map[string]any{"file": f})
}

func (a *API) getFile(c web.Context) error {
	f, err := a.svc.Files.GetFile(c, tenantID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"file": f})
}

func (a *API) ownerURL(mode sharing.Mode) web.HandlerFunc {
	return func(c web.Context) error {
		g, err := a.svc.Shares.OwnerURL(c, tenantID(c), c.Param("id"), mode)
		if err != nil {
			return err
		}
		return grantResponse(c, g, web.QueryFlag(c, "redirect"))
	}
}

func (a *API) deleteFile(c web.Context) error {
	entry, err := a.svc.Trash.SoftDelete(c, tenantID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"trash": entry})
}

type starRequest struct {
	Starred *bool `json:"starred"`
}

func (a *API) starFile(c web.Context) error {
	var req starRequest
	if err := c.BindJSON(&req); err != nil {
		return err
	}
	if req.Starred == nil {
		return core.Invalid("starred is required")
	}
	f, err := a.svc.Files.SetStarred(c, tenantID(c), c.Param("id"), *req.Starred)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"file": f})
}

type moveRequest struct {
	FolderID *string `json:"folder_id"`
}

func (a *API) moveFile(c web.Context) error {
	var req moveRequest
	if err := c.BindJSON(&req); err != nil {
		return err
	}
	var target *string
	if req.FolderID != nil {
		target = optionalID(*req.FolderID)
	}
	f, err := a.svc.Files.MoveFile(c, tenantID(c), c.Param("id"), target)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]any{"file": f})
}

type visibilityRequest struct {
	Public *bool `json:"public"`
}

func (a *API) setVisibility(c web.Context) error {
	var req visibilityRequest
	if err := c.BindJSON(&req); err != nil {
		return err
	}
	if req.Public == nil {
		return core.Invalid("public is required")
	}
	f, err := a.svc.Files.SetPublic(c, tenantID(c), c.Param("id"), *req.Public)
	if err != nil {
		return err
	}
	fields := map[string]any{"file": f}
	if f.IsPublic {
		fields["public_url"] = a.baseURL + "/public/files/" + f.ID
	}
	return ok(c, http.StatusOK, fields)
}
