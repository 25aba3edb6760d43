// Package icon generates an app icon for a project through an external image model.
// Every failure here is reported to the caller and never affects the publish job.
package icon

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/gameforge/publish-worker/publish/publishrepo"
	"github.com/gameforge/publish-worker/store"
)

const CName = "publish.icon"

var log = logger.NewNamed(CName)

var (
	ErrTimeout          = errors.New("icon generation timed out")
	ErrNoImageGenerated = errors.New("no image generated")
	ErrDisabled         = errors.New("icon generation is not configured")
)

const (
	defaultApiUrl   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel    = "gemini-2.5-flash-image"
	defaultTimeout  = 60 * time.Second
	defaultMaxSize  = 1024
	maxDescription  = 500
	maxErrorBodyLen = 512
)

const iconStyle = "Design a polished mobile app icon. Single centered subject, bold simple shapes, " +
	"vibrant saturated colors, soft gradient background, rounded square composition, subtle 3D depth " +
	"and glossy lighting. No text, no letters, no watermark, no border."

// ApiError is returned when the image API answers with a non-2xx status.
type ApiError struct {
	StatusCode int
	Body       string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("API error: %d", e.StatusCode)
}

type configGetter interface {
	GetIcon() Config
}

type Config struct {
	ApiKey     string `yaml:"apiKey"`
	ApiUrl     string `yaml:"apiUrl"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeoutSec"`
	MaxSize    int    `yaml:"maxSize"`
}

type Request struct {
	ProjectId   string
	UserId      string
	Name        string
	Description string
}

// Result is what a joined Task yields: either Url or Err is set.
type Result struct {
	Url string
	Err error
}

func (r Result) Success() bool {
	return r.Err == nil && r.Url != ""
}

// Task is a generation running in the background. Wait may be called any number of times.
type Task struct {
	done chan struct{}
	res  Result
}

func (t *Task) Wait() Result {
	<-t.done
	return t.res
}

func New() Generator {
	return new(generator)
}

type Generator interface {
	Enabled() bool
	Generate(ctx context.Context, req Request) (url string, err error)
	// Start runs Generate in a new goroutine
	Start(ctx context.Context, req Request) *Task
	app.Component
}

type generator struct {
	conf    Config
	timeout time.Duration
	client  *http.Client
	store   store.Store
	repo    publishrepo.PublishRepo
	now     func() time.Time
}

func (g *generator) Init(a *app.App) (err error) {
	g.conf = a.MustComponent("config").(configGetter).GetIcon()
	if g.conf.ApiUrl == "" {
		g.conf.ApiUrl = defaultApiUrl
	}
	if g.conf.Model == "" {
		g.conf.Model = defaultModel
	}
	if g.conf.MaxSize <= 0 {
		g.conf.MaxSize = defaultMaxSize
	}
	g.timeout = defaultTimeout
	if g.conf.TimeoutSec > 0 {
		g.timeout = time.Duration(g.conf.TimeoutSec) * time.Second
	}
	g.client = &http.Client{}
	g.store = a.MustComponent(store.CName).(store.Store)
	g.repo = a.MustComponent(publishrepo.CName).(publishrepo.PublishRepo)
	g.now = time.Now
	return
}

func (g *generator) Name() (name string) {
	return CName
}

func (g *generator) Enabled() bool {
	return g.conf.ApiKey != ""
}

func (g *generator) Start(ctx context.Context, req Request) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.res.Url, t.res.Err = g.Generate(ctx, req)
	}()
	return t
}

func (g *generator) Generate(ctx context.Context, req Request) (url string, err error) {
	if !g.Enabled() {
		return "", ErrDisabled
	}
	data, mimeType, err := g.requestImage(ctx, prompt(req))
	if err != nil {
		return "", err
	}
	// other formats have no decoder here and are stored as they came
	if mimeType == "image/png" || mimeType == "image/jpeg" {
		if data, err = downscale(data, mimeType, g.conf.MaxSize); err != nil {
			return "", err
		}
	}

	key := fmt.Sprintf("%s/%s/icons/app-icon-%d.%s", req.UserId, req.ProjectId, g.now().UnixMilli(), extension(mimeType))
	bucket := g.store.Buckets().Icons
	if err = g.store.Put(ctx, bucket, store.NewFile(key, mimeType, data).WithCacheControl(store.CacheImmutable)); err != nil {
		return "", err
	}
	url = g.store.PublicUrl(bucket, key)

	updated, err := g.repo.SetThumbnailIfEmpty(ctx, req.ProjectId, url)
	if err != nil {
		return "", fmt.Errorf("set thumbnail: %w", err)
	}
	log.Info("app icon generated", zap.String("projectId", req.ProjectId), zap.String("url", url), zap.Bool("thumbnailSet", updated))
	return url, nil
}

func prompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(iconStyle)
	sb.WriteString(" The app is a game called \"")
	sb.WriteString(strings.TrimSpace(req.Name))
	sb.WriteString("\".")
	if desc := strings.TrimSpace(req.Description); desc != "" {
		if utf8.RuneCountInString(desc) > maxDescription {
			desc = string([]rune(desc)[:maxDescription])
		}
		sb.WriteString(" Game description: ")
		sb.WriteString(desc)
	}
	return sb.String()
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	// some gateways return snake_case
	InlineDataSnake *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType      string `json:"mimeType"`
	MimeTypeSnake string `json:"mime_type"`
	Data          string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (g *generator) requestImage(ctx context.Context, text string) (data []byte, mimeType string, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: text}}}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	})
	if err != nil {
		return
	}
	endpoint := strings.TrimRight(g.conf.ApiUrl, "/") + "/models/" + g.conf.Model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.conf.ApiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, "", &ApiError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var decoded generateResponse
	if err = json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return nil, "", fmt.Errorf("%w: decode response: %w", ErrNoImageGenerated, err)
	}
	for _, c := range decoded.Candidates {
		for _, p := range c.Content.Parts {
			inline := p.InlineData
			if inline == nil {
				inline = p.InlineDataSnake
			}
			if inline == nil || inline.Data == "" {
				continue
			}
			if data, err = base64.StdEncoding.DecodeString(inline.Data); err != nil {
				return nil, "", fmt.Errorf("%w: decode image: %w", ErrNoImageGenerated, err)
			}
			mimeType = inline.MimeType
			if mimeType == "" {
				mimeType = inline.MimeTypeSnake
			}
			if mimeType == "" {
				mimeType = "image/png"
			}
			return data, mimeType, nil
		}
	}
	return nil, "", ErrNoImageGenerated
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	}
	if sub, ok := strings.CutPrefix(mimeType, "image/"); ok && sub != "" && !strings.ContainsAny(sub, "/+;") {
		return sub
	}
	return "bin"
}

// downscale shrinks the image to fit maxSize; smaller images are returned untouched.
func downscale(data []byte, mimeType string, maxSize int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoImageGenerated, err)
	}
	if cfg.Width <= maxSize && cfg.Height <= maxSize {
		return data, nil
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoImageGenerated, err)
	}
	w, h := maxSize, maxSize
	if cfg.Width > cfg.Height {
		h = cfg.Height * maxSize / cfg.Width
	} else if cfg.Height > cfg.Width {
		w = cfg.Width * maxSize / cfg.Height
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if mimeType == "image/jpeg" {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
