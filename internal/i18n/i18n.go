// Package i18n resolves the request locale and renders client-facing messages.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

//go:embed locale/*.json
var localeFS embed.FS

// supported lists the locales with a catalog file, default first
var supported = []language.Tag{language.English}

var (
	matcher  = language.NewMatcher(supported)
	messages = mustLoad()
)

type ctxKey struct{}

func mustLoad() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(supported[0]))
	for _, tag := range supported {
		name := path.Join("locale", tag.String()+".json")
		data, err := localeFS.ReadFile(name)
		if err != nil {
			panic(fmt.Sprintf("i18n: read %s: %v", name, err))
		}
		var entries map[string]string
		if err := json.Unmarshal(data, &entries); err != nil {
			panic(fmt.Sprintf("i18n: parse %s: %v", name, err))
		}
		for id, msg := range entries {
			if err := b.SetString(tag, id, msg); err != nil {
				panic(fmt.Sprintf("i18n: %s %s: %v", name, id, err))
			}
		}
	}
	return b
}

// Match picks the best supported locale for the given preferences
// (a locale name or an Accept-Language value). Anything unknown falls back to English.
func Match(prefs ...string) language.Tag {
	var tags []language.Tag
	for _, p := range prefs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// FromRequest resolves the locale of a request from its locale and Accept-Language headers
func FromRequest(r *http.Request) language.Tag {
	return Match(r.Header.Get("locale"), r.Header.Get("Accept-Language"))
}

// WithLocale stores the locale on the context
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, ctxKey{}, tag)
}

// FromContext returns the locale stored on the context, English if none
func FromContext(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(ctxKey{}).(language.Tag); ok {
		return tag
	}
	return supported[0]
}

// Message renders the message id in the context's locale. Unknown ids render as the id itself.
func Message(ctx context.Context, id string) string {
	p := message.NewPrinter(FromContext(ctx), message.Catalog(messages))
	return p.Sprintf(message.Key(id, id))
}

// Middleware resolves the request locale once and stores it on the request context
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLocale(r.Context(), FromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
