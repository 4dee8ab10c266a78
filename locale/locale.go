// Package locale resolves display strings for the sign-in pages.
package locale

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var builtin embed.FS

// Translator holds the message bundle for every supported language.
type Translator struct {
	bundle *i18n.Bundle
}

// New loads the built-in message files with defaultLang as fallback.
func New(defaultLang string) (*Translator, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("locale: default language %q: %w", defaultLang, err)
	}
	return NewFromFS(builtin, "locales", tag)
}

// NewFromFS loads every *.json file under dir of fsys. File names carry the
// language tag, e.g. en.json.
func NewFromFS(fsys fs.FS, dir string, defaultLang language.Tag) (*Translator, error) {
	bundle := i18n.NewBundle(defaultLang)

	files, err := fs.Glob(fsys, path.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(fsys, file); err != nil {
			return nil, fmt.Errorf("locale: load %s: %w", file, err)
		}
	}
	return &Translator{bundle: bundle}, nil
}

// Languages lists the loaded language tags.
func (t *Translator) Languages() []language.Tag {
	return t.bundle.LanguageTags()
}

// For returns a Localizer for the preferred languages, most preferred
// first. Values may be plain tags or Accept-Language headers.
func (t *Translator) For(langs ...string) *Localizer {
	return &Localizer{l: i18n.NewLocalizer(t.bundle, langs...)}
}

// Localizer looks up strings in one request's language.
type Localizer struct {
	l *i18n.Localizer
}

// T returns the message for id rendered with data. Unknown ids render as
// the id itself so a missing translation never breaks a page.
func (l *Localizer) T(id string, data ...map[string]any) string {
	cfg := &i18n.LocalizeConfig{MessageID: id}
	if len(data) > 0 {
		cfg.TemplateData = data[0]
	}
	// A message served from the default language still reports
	// MessageNotFoundErr, so only an empty result counts as missing.
	msg, _ := l.l.Localize(cfg)
	if msg == "" {
		return id
	}
	return msg
}
