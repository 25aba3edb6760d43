package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

const CName = "publish.bundler"

var log = logger.NewNamed(CName)

var ErrBuildFailed = errors.New("build failed")

const (
	defaultTimeout = 120 * time.Second
	defaultCdnUrl  = "https://esm.sh"
	outputSuffix   = "-out"
)

var loaders = map[string]api.Loader{
	".js":    api.LoaderJS,
	".mjs":   api.LoaderJS,
	".jsx":   api.LoaderJSX,
	".ts":    api.LoaderTS,
	".tsx":   api.LoaderTSX,
	".css":   api.LoaderCSS,
	".json":  api.LoaderJSON,
	".png":   api.LoaderFile,
	".jpg":   api.LoaderFile,
	".jpeg":  api.LoaderFile,
	".gif":   api.LoaderFile,
	".svg":   api.LoaderFile,
	".webp":  api.LoaderFile,
	".mp3":   api.LoaderFile,
	".wav":   api.LoaderFile,
	".ogg":   api.LoaderFile,
	".woff":  api.LoaderFile,
	".woff2": api.LoaderFile,
	".ttf":   api.LoaderFile,
}

type configGetter interface {
	GetBundler() Config
}

type Config struct {
	TimeoutSec int    `yaml:"timeoutSec"`
	CdnUrl     string `yaml:"cdnUrl"`
}

func New() Bundler {
	return new(bundler)
}

type Bundler interface {
	// Build bundles entry (relative to stagingDir) into a new output directory next to stagingDir.
	// Every failure, including the deadline, is reported as ErrBuildFailed and leaves no output directory.
	Build(ctx context.Context, stagingDir, entry string) (outputDir string, err error)
	app.Component
}

type bundler struct {
	timeout time.Duration
	cdnUrl  string
	plugins []api.Plugin
}

func (b *bundler) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configGetter).GetBundler()
	b.timeout = defaultTimeout
	if conf.TimeoutSec > 0 {
		b.timeout = time.Duration(conf.TimeoutSec) * time.Second
	}
	b.cdnUrl = defaultCdnUrl
	if conf.CdnUrl != "" {
		b.cdnUrl = strings.TrimRight(conf.CdnUrl, "/")
	}
	return
}

func (b *bundler) Name() (name string) {
	return CName
}

func (b *bundler) Build(ctx context.Context, stagingDir, entry string) (outputDir string, err error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err = ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	out := stagingDir + outputSuffix
	if err = os.MkdirAll(out, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(out)
		}
	}()

	buildCtx, ctxErr := api.Context(b.options(stagingDir, entry, out))
	if ctxErr != nil {
		return "", fmt.Errorf("%w: %s", ErrBuildFailed, formatMessages(ctxErr.Errors))
	}
	defer buildCtx.Dispose()

	start := time.Now()
	done := make(chan api.BuildResult, 1)
	go func() {
		done <- buildCtx.Rebuild()
	}()

	var result api.BuildResult
	select {
	case result = <-done:
	case <-ctx.Done():
		buildCtx.Cancel()
		<-done
		return "", fmt.Errorf("%w: %w", ErrBuildFailed, ctx.Err())
	}
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("%w: %s", ErrBuildFailed, formatMessages(result.Errors))
	}
	for _, w := range result.Warnings {
		log.Debug("bundler warning", zap.String("text", w.Text))
	}

	if err = writeIndexHtml(result.Metafile, stagingDir, out, entry); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	log.Info("bundle built", zap.String("entry", entry), zap.Duration("dur", time.Since(start)))
	return out, nil
}

func (b *bundler) options(stagingDir, entry, outputDir string) api.BuildOptions {
	return api.BuildOptions{
		EntryPoints:       []string{entry},
		AbsWorkingDir:     stagingDir,
		Outdir:            outputDir,
		Bundle:            true,
		Write:             true,
		Metafile:          true,
		Platform:          api.PlatformBrowser,
		Format:            api.FormatESModule,
		Target:            api.ES2020,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		JSX:               api.JSXAutomatic,
		Define: map[string]string{
			"process.env.NODE_ENV": `"production"`,
		},
		Loader:     loaders,
		EntryNames: "[name]",
		AssetNames: "assets/[name]-[hash]",
		LogLevel:   api.LogLevelSilent,
		Plugins:    append([]api.Plugin{cdnExternals(b.cdnUrl)}, b.plugins...),
	}
}

// cdnExternals rewrites bare package imports to the ESM CDN and leaves them external:
// the staging area has no node_modules.
func cdnExternals(cdnUrl string) api.Plugin {
	return api.Plugin{
		Name: "cdn-externals",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^[^./]`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveEntryPoint {
					return api.OnResolveResult{}, nil
				}
				if strings.HasPrefix(args.Path, "http://") || strings.HasPrefix(args.Path, "https://") {
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				}
				return api.OnResolveResult{Path: cdnUrl + "/" + args.Path, External: true}, nil
			})
		},
	}
}

type metafile struct {
	Outputs map[string]metafileOutput `json:"outputs"`
}

type metafileOutput struct {
	EntryPoint string `json:"entryPoint,omitempty"`
	CssBundle  string `json:"cssBundle,omitempty"`
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8" />
<meta name="viewport" content="width=device-width, initial-scale=1.0" />
<title>Game</title>
{{- if .Css}}
<link rel="stylesheet" href="./{{.Css}}" />
{{- end}}
</head>
<body>
<div id="root"></div>
<script type="module" src="./{{.Script}}"></script>
</body>
</html>
`))

func writeIndexHtml(rawMetafile, stagingDir, outputDir, entry string) error {
	indexPath := filepath.Join(outputDir, "index.html")
	if _, err := os.Stat(indexPath); err == nil {
		return nil
	}
	var meta metafile
	if err := json.Unmarshal([]byte(rawMetafile), &meta); err != nil {
		return fmt.Errorf("parse metafile: %w", err)
	}
	var data struct {
		Script string
		Css    string
	}
	for outPath, out := range meta.Outputs {
		if out.EntryPoint != entry || !strings.HasSuffix(outPath, ".js") {
			continue
		}
		var err error
		if data.Script, err = outputRel(stagingDir, outputDir, outPath); err != nil {
			return err
		}
		if out.CssBundle != "" {
			if data.Css, err = outputRel(stagingDir, outputDir, out.CssBundle); err != nil {
				return err
			}
		}
	}
	if data.Script == "" {
		return fmt.Errorf("entry %s produced no script", entry)
	}
	f, err := os.Create(indexPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return indexTmpl.Execute(f, data)
}

// outputRel converts a metafile path (relative to the working dir) to a slash path relative to outputDir.
func outputRel(stagingDir, outputDir, metaPath string) (string, error) {
	rel, err := filepath.Rel(outputDir, filepath.Join(stagingDir, filepath.FromSlash(metaPath)))
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
		} else {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "; ")
}
