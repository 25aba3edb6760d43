package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gameforge/publish-worker/artifact"
	"github.com/gameforge/publish-worker/domain"
	"github.com/gameforge/publish-worker/source"
)

// BuildSource tells which tier of the fallback chain produced the artifacts.
type BuildSource string

const (
	BuildSourcePrimary     BuildSource = "primary"
	BuildSourceDist        BuildSource = "dist"
	BuildSourcePlaceholder BuildSource = "placeholder"
)

var errEmptyBuild = errors.New("build produced no files")

type buildResult struct {
	artifacts  domain.BuildArtifacts
	entrypoint string
	source     BuildSource
}

// buildLog is the operator-facing text uploaded next to every version.
type buildLog struct {
	sb  strings.Builder
	now func() time.Time
}

func (l *buildLog) Printf(format string, args ...any) {
	l.sb.WriteString("[")
	l.sb.WriteString(l.now().UTC().Format(time.RFC3339))
	l.sb.WriteString("] ")
	l.sb.WriteString(fmt.Sprintf(format, args...))
	l.sb.WriteString("\n")
}

func (l *buildLog) Bytes() []byte {
	return []byte(l.sb.String())
}

// build runs the fallback chain: primary build, then a previously uploaded dist/, then a placeholder page.
// It never fails.
func (p *publishService) build(ctx context.Context, job domain.Job, projectName string, blog *buildLog) buildResult {
	start := time.Now()
	lg := log.With(zap.String("jobId", job.Id), zap.String("projectId", job.ProjectId))

	blog.Printf("primary build started")
	artifacts, err := p.buildPrimary(ctx, job, blog)
	if err == nil {
		blog.Printf("primary build succeeded: %d files, %d bytes in %s", len(artifacts.Files), artifacts.TotalSize(), time.Since(start).Round(time.Millisecond))
		return buildResult{artifacts: artifacts, entrypoint: entrypoint(artifacts), source: BuildSourcePrimary}
	}
	lg.Warn("primary build failed", zap.Error(err))
	blog.Printf("primary build failed: %v", err)

	blog.Printf("looking for a prebuilt dist/")
	dist, err := p.fetcher.FetchDist(ctx, job.UserId, job.ProjectId)
	if err == nil && len(dist) > 0 {
		artifacts = artifact.FromFiles(dist)
		lg.Info("using prebuilt dist", zap.Int("files", len(artifacts.Files)))
		blog.Printf("dist fallback: %d files, %d bytes", len(artifacts.Files), artifacts.TotalSize())
		return buildResult{artifacts: artifacts, entrypoint: entrypoint(artifacts), source: BuildSourceDist}
	}
	if err != nil {
		blog.Printf("dist fallback unavailable: %v", err)
	}

	lg.Warn("publishing placeholder page")
	blog.Printf("no build output available, publishing placeholder page")
	artifacts = artifact.Placeholder(p.now(), projectName)
	return buildResult{artifacts: artifacts, entrypoint: artifact.IndexHtml, source: BuildSourcePlaceholder}
}

func (p *publishService) buildPrimary(ctx context.Context, job domain.Job, blog *buildLog) (artifacts domain.BuildArtifacts, err error) {
	files, err := p.fetcher.Fetch(ctx, job.UserId, job.ProjectId)
	if err != nil {
		return
	}
	blog.Printf("fetched %d source files", len(files))
	entry, err := source.ResolveEntry(files.Paths())
	if err != nil {
		return
	}
	blog.Printf("entry: %s", entry)

	// tmp cleaners may remove the work dir while the worker runs
	if err = os.MkdirAll(p.conf.WorkDir, 0755); err != nil {
		return
	}
	stagingDir, err := os.MkdirTemp(p.conf.WorkDir, "publish-*")
	if err != nil {
		return
	}
	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()
	if err = source.Stage(files, stagingDir); err != nil {
		return
	}
	outputDir, err := p.bundler.Build(ctx, stagingDir, entry)
	if err != nil {
		return
	}
	defer func() {
		_ = os.RemoveAll(outputDir)
	}()

	artifacts, overridden, err := artifact.Collect(outputDir, files)
	if err != nil {
		return
	}
	for _, o := range overridden {
		blog.Printf("public/%s overrides compiled output", o)
	}
	if len(artifacts.Files) == 0 {
		return domain.BuildArtifacts{}, errEmptyBuild
	}
	return artifacts, nil
}

// entrypoint picks the page the live pointer refers to.
func entrypoint(artifacts domain.BuildArtifacts) string {
	if artifacts.Has(artifact.IndexHtml) {
		return artifact.IndexHtml
	}
	for _, f := range artifacts.Files {
		if path.Ext(f.Path) == ".html" {
			return f.Path
		}
	}
	return artifact.IndexHtml
}
