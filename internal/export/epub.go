package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"bookforge/pkg/zip"
)

const epubStylesheet = `body { font-family: Georgia, serif; line-height: 1.55; margin: 5%; }
h1 { font-size: 1.8em; margin-bottom: 0.4em; }
h2 { font-size: 1.2em; margin-bottom: 1.2em; color: #444; }
p { margin: 0 0 1em; text-align: justify; }
em { color: #666; }
`

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

var epubTemplates = template.Must(template.New("epub").Parse(`
{{define "about"}}<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="{{.Language}}" lang="{{.Language}}">
<head><title>About This Book</title><link rel="stylesheet" type="text/css" href="style.css"/></head>
<body>
<h1>{{.Title}}</h1>
{{if .Subtitle}}<h2>{{.Subtitle}}</h2>{{end}}
<p><em>{{.Author}}</em></p>
<hr/>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}</body>
</html>
{{end}}
{{define "chapter"}}<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="{{.Language}}" lang="{{.Language}}">
<head><title>{{.Title}}</title><link rel="stylesheet" type="text/css" href="style.css"/></head>
<body>
<h1>Chapter {{.Number}}</h1>
<h2>{{.Title}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}</body>
</html>
{{end}}
{{define "nav"}}<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops" xml:lang="{{.Language}}" lang="{{.Language}}">
<head><title>{{.Title}}</title></head>
<body>
<nav epub:type="toc" id="toc"><h1>Contents</h1>
<ol>
{{range .Items}}<li><a href="{{.File}}">{{.Title}}</a></li>
{{end}}</ol>
</nav>
</body>
</html>
{{end}}
{{define "opf"}}<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="book-id">
<metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:identifier id="book-id">{{.Identifier}}</dc:identifier>
<dc:title>{{.Title}}</dc:title>
<dc:creator>{{.Author}}</dc:creator>
<dc:language>{{.Language}}</dc:language>
{{if .Genre}}<dc:subject>{{.Genre}}</dc:subject>
{{end}}<meta property="dcterms:modified">{{.Modified}}</meta>
</metadata>
<manifest>
<item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
<item id="style" href="style.css" media-type="text/css"/>
{{range .Items}}<item id="{{.ID}}" href="{{.File}}" media-type="application/xhtml+xml"/>
{{end}}</manifest>
<spine>
<itemref idref="nav"/>
{{range .Items}}<itemref idref="{{.ID}}"/>
{{end}}</spine>
</package>
{{end}}`))

type epubItem struct {
	ID    string
	File  string
	Title string
}

// EPUB builds an EPUB 3 container with an about page and one XHTML file per
// chapter.
func EPUB(m Manuscript) ([]byte, error) {
	return buildEPUB(m, time.Now().UTC())
}

func buildEPUB(m Manuscript, modified time.Time) ([]byte, error) {
	about := m.BackCoverDescription
	if about == "" {
		about = "Generated with BOOKFORGE."
	}
	entries := []zip.Entry{
		{Name: "mimetype", Data: []byte("application/epub+zip"), Stored: true},
		{Name: "META-INF/container.xml", Data: []byte(containerXML)},
		{Name: "OEBPS/style.css", Data: []byte(epubStylesheet)},
	}

	aboutPage, err := render("about", map[string]any{
		"Language":   m.Language,
		"Title":      m.Title,
		"Subtitle":   m.Subtitle,
		"Author":     m.Author,
		"Paragraphs": paragraphs(about),
	})
	if err != nil {
		return nil, err
	}
	items := []epubItem{{ID: "about", File: "about.xhtml", Title: "About This Book"}}
	entries = append(entries, zip.Entry{Name: "OEBPS/about.xhtml", Data: aboutPage})

	for i, ch := range m.Chapters {
		item := epubItem{
			ID:    fmt.Sprintf("chapter-%02d", i+1),
			File:  fmt.Sprintf("chapter-%02d.xhtml", i+1),
			Title: coalesceText(ch.Title, fmt.Sprintf("Chapter %d", ch.Number)),
		}
		page, err := render("chapter", map[string]any{
			"Language":   m.Language,
			"Number":     ch.Number,
			"Title":      item.Title,
			"Paragraphs": chapterBody(ch),
		})
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		entries = append(entries, zip.Entry{Name: "OEBPS/" + item.File, Data: page})
	}

	nav, err := render("nav", map[string]any{"Language": m.Language, "Title": m.Title, "Items": items})
	if err != nil {
		return nil, err
	}
	opf, err := render("opf", map[string]any{
		"Identifier": "bookforge-" + slug(m.Title),
		"Title":      m.Title,
		"Author":     m.Author,
		"Language":   m.Language,
		"Genre":      m.Genre,
		"Modified":   modified.Format("2006-01-02T15:04:05Z"),
		"Items":      items,
	})
	if err != nil {
		return nil, err
	}
	entries = append(entries,
		zip.Entry{Name: "OEBPS/nav.xhtml", Data: nav},
		zip.Entry{Name: "OEBPS/content.opf", Data: opf},
	)

	out, err := zip.Archive(entries)
	if err != nil {
		return nil, fmt.Errorf("export: package epub: %w", err)
	}
	return out, nil
}

func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := epubTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("export: render %s: %w", name, err)
	}
	return bytes.TrimLeft(buf.Bytes(), "\n"), nil
}
