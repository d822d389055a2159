package releaseplan

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/yungbote/panelapp-backend/internal/domain/panels"
)

// NowFormat renders now.yyyy_mm_dd_hh_mm.
const NowFormat = "2006-01-02 15:04"

// Tags that reach the filesystem, other templates, or the process clock.
var bannedTags = []string{"include", "extends", "import", "ssi", "now", "macro"}

var errNoTemplateFiles = errors.New("templates cannot load files")

type TemplateRenderError struct {
	Err error
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("promotion comment template: %v", e.Err)
}

func (e *TemplateRenderError) Unwrap() error { return e.Err }

type noFiles struct{}

func (noFiles) Abs(base, name string) string       { return name }
func (noFiles) Get(path string) (io.Reader, error) { return nil, errNoTemplateFiles }

var (
	sandboxMu sync.Mutex
	sandbox   = newSandbox()
)

func newSandbox() *pongo2.TemplateSet {
	set := pongo2.NewSet("promotion-comment", noFiles{})
	for _, tag := range bannedTags {
		if err := set.BanTag(tag); err != nil {
			panic(fmt.Sprintf("releaseplan: ban tag %s: %v", tag, err))
		}
	}
	return set
}

func compile(src string) (*pongo2.Template, error) {
	sandboxMu.Lock()
	defer sandboxMu.Unlock()
	tpl, err := sandbox.FromString("{% autoescape off %}" + src + "{% endautoescape %}")
	if err != nil {
		return nil, &TemplateRenderError{Err: err}
	}
	return tpl, nil
}

// CompileTemplate reports whether src is a usable promotion comment template.
func CompileTemplate(src string) error {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	_, err := compile(src)
	return err
}

// templateVersion is the version as templates see it: {{ version }} renders
// M.m, {{ version.major }} and {{ version.minor }} the parts.
type templateVersion map[string]int

func newTemplateVersion(v panels.Version) templateVersion {
	return templateVersion{"major": v.Major, "minor": v.Minor}
}

func (v templateVersion) String() string {
	return panels.NewVersion(v["major"], v["minor"]).String()
}

// RenderPromotionComment expands src with now (UTC) and the post-promotion
// version. Only those two values are visible to the template.
func RenderPromotionComment(src string, now time.Time, version panels.Version) (string, error) {
	if src == "" {
		return "", nil
	}
	tpl, err := compile(src)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(pongo2.Context{
		"now":     map[string]string{"yyyy_mm_dd_hh_mm": now.UTC().Format(NowFormat)},
		"version": newTemplateVersion(version),
	})
	if err != nil {
		return "", &TemplateRenderError{Err: err}
	}
	// A single trailing newline is not part of the comment.
	return strings.TrimSuffix(out, "\n"), nil
}
