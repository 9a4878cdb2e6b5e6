package mailer

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontmatterDelim = []byte("---")

// splitFrontmatter separates leading YAML frontmatter from the body. Content
// without an opening delimiter is all body.
func splitFrontmatter(content []byte) (map[string]any, []byte, error) {
	meta := map[string]any{}
	if !bytes.HasPrefix(content, frontmatterDelim) {
		return meta, content, nil
	}

	rest := bytes.TrimLeft(content[len(frontmatterDelim):], "\r\n")
	end := bytes.Index(rest, frontmatterDelim)
	if end < 0 {
		return nil, nil, fmt.Errorf("%w: closing delimiter not found", ErrInvalidFrontmatter)
	}

	head := rest[:end]
	body := rest[end+len(frontmatterDelim):]
	body = bytes.TrimPrefix(body, []byte("\r"))
	body = bytes.TrimPrefix(body, []byte("\n"))

	if len(bytes.TrimSpace(head)) > 0 {
		if err := yaml.Unmarshal(head, &meta); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
		}
	}
	return meta, body, nil
}
