package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"kubot/internal/module"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// RetryConfig конфигурация повторов загрузки
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// FetchConfig конфигурация загрузки модулей по URL
type FetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	Retry    RetryConfig
}

// DefaultFetchConfig значения по умолчанию
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:  30 * time.Second,
		MaxBytes: 5 << 20,
		Retry: RetryConfig{
			MaxRetries:        2,
			InitialDelay:      500 * time.Millisecond,
			MaxDelay:          5 * time.Second,
			BackoffMultiplier: 2,
		},
	}
}

// errPermanent ответ, который не имеет смысла запрашивать повторно
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Fetcher скачивает исходники модулей
type Fetcher struct {
	client *http.Client
	config FetchConfig
	logger *zap.Logger
}

// NewFetcher создает загрузчик с собственным HTTP клиентом
func NewFetcher(config FetchConfig, logger *zap.Logger) *Fetcher {
	defaults := DefaultFetchConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaults.MaxBytes
	}
	if config.Retry.BackoffMultiplier <= 0 {
		config.Retry.BackoffMultiplier = defaults.Retry.BackoffMultiplier
	}

	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
		logger: logger,
	}
}

var (
	githubBlobRe = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/blob/(.+)$`)
	gistRe       = regexp.MustCompile(`^https?://gist\.github\.com/([^/]+/[0-9a-fA-F]+)/?$`)
)

// NormalizeURL переводит ссылки на страницы просмотра исходников в ссылки на сырой файл
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := githubBlobRe.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", m[1], m[2], m[3])
	}
	if m := gistRe.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf("https://gist.github.com/%s/raw", m[1])
	}
	return raw
}

// FilenameFromURL последний сегмент пути без запроса и фрагмента, с расширением .lua
func FilenameFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: no file name in %s", module.ErrInvalidFilename, raw)
	}
	if !strings.HasSuffix(strings.ToLower(name), Extension) {
		name += Extension
	}
	return name, nil
}

// Fetch скачивает тело ответа с проверкой размера и типа содержимого
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := f.withRetry(ctx, func() error {
		var err error
		body, err = f.fetchOnce(ctx, rawURL)
		return err
	})
	if err != nil {
		var perm errPermanent
		if errors.As(err, &perm) {
			return nil, perm.err
		}
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errPermanent{fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", "kubot-module-loader")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, errPermanent{statusErr}
	}

	if resp.ContentLength > f.config.MaxBytes {
		return nil, errPermanent{fmt.Errorf("%w: %d bytes", module.ErrPayloadTooLarge, resp.ContentLength)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, errPermanent{fmt.Errorf("%w: more than %d bytes", module.ErrPayloadTooLarge, f.config.MaxBytes)}
	}

	if isHTML(resp.Header.Get("Content-Type"), body) {
		if title := pageTitle(body); title != "" {
			return nil, errPermanent{fmt.Errorf("%w: %q", module.ErrHTMLPayload, title)}
		}
		return nil, errPermanent{module.ErrHTMLPayload}
	}

	return body, nil
}

func isHTML(contentType string, body []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "text/html" {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return bytes.HasPrefix(head, []byte("<!doctype")) || bytes.HasPrefix(head, []byte("<html"))
}

func pageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// withRetry повторяет попытку с экспоненциальной задержкой; errPermanent прерывает цикл
func (f *Fetcher) withRetry(ctx context.Context, fn func() error) error {
	cfg := f.config.Retry
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				f.logger.Debug("Fetch succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err

		var perm errPermanent
		if errors.As(err, &perm) || attempt == cfg.MaxRetries {
			break
		}

		delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt)))
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}

		f.logger.Debug("Fetch failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
