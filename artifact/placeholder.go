package artifact

import (
	"bytes"
	"html/template"
	"time"

	"github.com/gameforge/publish-worker/domain"
)

var placeholderTmpl = template.Must(template.New("placeholder").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8" />
<meta name="viewport" content="width=device-width, initial-scale=1.0" />
<title>{{.Name}}</title>
<style>
body{margin:0;min-height:100vh;display:flex;align-items:center;justify-content:center;font-family:system-ui,sans-serif;background:#0f172a;color:#e2e8f0;text-align:center}
small{color:#94a3b8}
</style>
</head>
<body>
<main>
<h1>{{.Name}}</h1>
<p>This game is being prepared. Check back soon.</p>
<small>Published at <time datetime="{{.Timestamp}}">{{.Timestamp}}</time></small>
</main>
</body>
</html>
`))

// Placeholder produces a single index.html used when no build output is available.
func Placeholder(now time.Time, projectName string) domain.BuildArtifacts {
	if projectName == "" {
		projectName = "Coming soon"
	}
	var buf bytes.Buffer
	_ = placeholderTmpl.Execute(&buf, struct {
		Name      string
		Timestamp string
	}{
		Name:      projectName,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	b := NewBuilder()
	b.Add(IndexHtml, buf.Bytes())
	return b.Artifacts()
}
