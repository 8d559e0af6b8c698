package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
)

// Folder is a common prefix shown as a directory.
type Folder struct {
	Prefix string
}

// Object represents a single object within the bucket for display.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Crumb is one step of the breadcrumb trail above a listing.
type Crumb struct {
	Name   string
	Prefix string
}

// Listing is everything the browse page shows for one prefix.
type Listing struct {
	Bucket  string
	Prefix  string
	Folders []Folder
	Objects []Object
	Error   string
}

// Crumbs splits prefix into its folder steps, starting at the bucket root.
func Crumbs(bucket string, prefix string) []Crumb {
	crumbs := []Crumb{{Name: bucket, Prefix: ""}}
	var acc strings.Builder
	for _, seg := range strings.Split(strings.TrimSuffix(prefix, "/"), "/") {
		if seg == "" {
			continue
		}
		acc.WriteString(seg)
		acc.WriteString("/")
		crumbs = append(crumbs, Crumb{Name: seg, Prefix: acc.String()})
	}
	return crumbs
}

// BrowseURL is the console link for a prefix.
func BrowseURL(prefix string) string {
	return "/browse/" + escapeKey(prefix)
}

// DownloadURL is the console link streaming an object.
func DownloadURL(key string) string {
	return "/download/" + escapeKey(key)
}

func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// pageWriter remembers the first write error so templates can write
// unconditionally and check once.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) print(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *pageWriter) printf(format string, args ...any) {
	p.print(fmt.Sprintf(format, args...))
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.print("<!DOCTYPE html><html lang=\"en\">")
		p.print("<head><meta charset=\"utf-8\">")
		p.print("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		p.printf("<title>%s</title>", html.EscapeString(title))
		// Minimal modern CSS framework (Pico.css) via CDN.
		p.print("<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		p.print("<link rel=\"stylesheet\" href=\"/static/console.css\">")
		// HTMX via CDN.
		p.print("<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>")
		p.print("</head>")
		p.print("<body hx-boost=\"true\"><main class=\"container\">")
		if p.err != nil {
			return p.err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		p.print("</main></body></html>")
		return p.err
	})
}

// BrowsePage renders the folders and objects directly under one prefix.
func BrowsePage(l Listing) templ.Component {
	return Layout("SimpleS3 - "+l.Bucket+"/"+l.Prefix, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}

		p.print("<section><header><nav aria-label=\"breadcrumb\"><ul>")
		for _, c := range Crumbs(l.Bucket, l.Prefix) {
			p.printf("<li><a href=\"%s\">%s</a></li>", html.EscapeString(BrowseURL(c.Prefix)), html.EscapeString(c.Name))
		}
		p.print("</ul></nav>")
		p.printf("<form method=\"post\" action=\"/upload\" enctype=\"multipart/form-data\" hx-boost=\"false\">"+
			"<input type=\"hidden\" name=\"prefix\" value=\"%s\">"+
			"<fieldset role=\"group\"><input type=\"file\" name=\"file\" required><button type=\"submit\">Upload</button></fieldset>"+
			"</form></header>", html.EscapeString(l.Prefix))

		if l.Error != "" {
			p.printf("<p class=\"error-message\">%s</p>", html.EscapeString(l.Error))
		}

		if len(l.Folders) == 0 && len(l.Objects) == 0 {
			p.print("<p>No objects under this prefix.</p></section>")
			return p.err
		}

		p.print("<table><thead><tr><th>Name</th><th>Size</th><th>Last Modified</th><th></th></tr></thead><tbody>")
		for _, f := range l.Folders {
			name := strings.TrimPrefix(f.Prefix, l.Prefix)
			p.printf("<tr><td><a href=\"%s\">%s</a></td><td></td><td></td><td></td></tr>",
				html.EscapeString(BrowseURL(f.Prefix)), html.EscapeString(name))
		}
		for _, o := range l.Objects {
			name := strings.TrimPrefix(o.Key, l.Prefix)
			p.printf("<tr><td><a href=\"%s\" hx-boost=\"false\">%s</a></td><td title=\"%d bytes\">%s</td><td title=\"%s\">%s</td>"+
				"<td><button class=\"secondary outline\" hx-post=\"/delete/%s\" hx-confirm=\"Delete %s?\">Delete</button></td></tr>",
				html.EscapeString(DownloadURL(o.Key)), html.EscapeString(name),
				o.Size, humanize.IBytes(uint64(o.Size)),
				o.LastModified.UTC().Format(time.RFC3339), humanize.Time(o.LastModified),
				html.EscapeString(escapeKey(o.Key)), html.EscapeString(name))
		}
		p.print("</tbody></table></section>")
		return p.err
	}))
}
