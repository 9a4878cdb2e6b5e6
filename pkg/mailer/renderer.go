package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sync"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Rendered is the output of a template render.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type parsedTemplate struct {
	subject *texttemplate.Template
	body    *texttemplate.Template
}

// Renderer loads templates from root and layouts from root/layouts. Parsed
// templates are cached for the lifetime of the renderer.
type Renderer struct {
	fs fs.FS
	md goldmark.Markdown

	mu        sync.RWMutex
	templates map[string]*parsedTemplate
	layouts   map[string]*template.Template
}

func NewRenderer(fsys fs.FS) *Renderer {
	return &Renderer{
		fs:        fsys,
		md:        goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Table)),
		templates: map[string]*parsedTemplate{},
		layouts:   map[string]*template.Template{},
	}
}

// Render executes the named template with data inside layout.
func (r *Renderer) Render(layout, name string, data any) (*Rendered, error) {
	tpl, err := r.template(name)
	if err != nil {
		return nil, err
	}

	var subject, md bytes.Buffer
	if tpl.subject != nil {
		if err := tpl.subject.Execute(&subject, data); err != nil {
			return nil, fmt.Errorf("%w: subject of %s: %v", ErrRenderFailed, name, err)
		}
	}
	if err := tpl.body.Execute(&md, data); err != nil {
		return nil, fmt.Errorf("%w: body of %s: %v", ErrRenderFailed, name, err)
	}

	var content bytes.Buffer
	if err := r.md.Convert(md.Bytes(), &content); err != nil {
		return nil, fmt.Errorf("%w: markdown of %s: %v", ErrRenderFailed, name, err)
	}

	lt, err := r.layout(layout)
	if err != nil {
		return nil, err
	}
	var page bytes.Buffer
	err = lt.Execute(&page, map[string]any{
		"Subject": subject.String(),
		"Content": template.HTML(content.String()), //nolint:gosec
	})
	if err != nil {
		return nil, fmt.Errorf("%w: layout %s: %v", ErrRenderFailed, layout, err)
	}

	return &Rendered{Subject: subject.String(), HTML: page.String(), Text: md.String()}, nil
}

func (r *Renderer) template(name string) (*parsedTemplate, error) {
	r.mu.RLock()
	tpl, ok := r.templates[name]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	raw, err := fs.ReadFile(r.fs, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	meta, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	tpl = &parsedTemplate{}
	if tpl.body, err = texttemplate.New(name).Option("missingkey=error").Parse(string(body)); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrRenderFailed, name, err)
	}
	if s, ok := meta["subject"].(string); ok && s != "" {
		if tpl.subject, err = texttemplate.New(name + ":subject").Parse(s); err != nil {
			return nil, fmt.Errorf("%w: parse subject of %s: %v", ErrRenderFailed, name, err)
		}
	}

	r.mu.Lock()
	r.templates[name] = tpl
	r.mu.Unlock()
	return tpl, nil
}

func (r *Renderer) layout(name string) (*template.Template, error) {
	r.mu.RLock()
	lt, ok := r.layouts[name]
	r.mu.RUnlock()
	if ok {
		return lt, nil
	}

	raw, err := fs.ReadFile(r.fs, path.Join("layouts", name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLayoutNotFound, name)
	}
	lt, err = template.New(name).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse layout %s: %v", ErrRenderFailed, name, err)
	}

	r.mu.Lock()
	r.layouts[name] = lt
	r.mu.Unlock()
	return lt, nil
}
