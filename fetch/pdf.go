package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MaxPDFSize caps the size of a downloaded document.
const MaxPDFSize = 100 << 20

// PDFExtractor downloads PDF documents and extracts the text of each page.
type PDFExtractor struct {
	client  *http.Client
	tempDir string
	logger  *slog.Logger
}

var _ Extractor = (*PDFExtractor)(nil)

// NewPDFExtractor downloads with client into the system temp directory.
func NewPDFExtractor(client *http.Client, logger *slog.Logger) *PDFExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{
		client:  client,
		tempDir: os.TempDir(),
		logger:  logger.With("component", "pdf-extractor"),
	}
}

func (e *PDFExtractor) Extract(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	file, status, err := e.download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer os.Remove(file)

	pages, title, err := e.extractPages(file)
	if err != nil {
		return nil, &FetchError{Kind: KindRenderError, URL: url, StatusCode: status, Err: err}
	}
	if title == "" {
		title = documentName(url)
	}

	nonEmpty := slices.DeleteFunc(pages, func(p string) bool { return strings.TrimSpace(p) == "" })
	e.logger.Debug("extracted pdf", "url", url, "pages", len(pages), "text_pages", len(nonEmpty))

	return &Result{
		URL:        url,
		Title:      title,
		Markdown:   strings.Join(nonEmpty, "\n\n"),
		StatusCode: status,
	}, nil
}

func (e *PDFExtractor) download(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, &FetchError{Kind: KindHTTPError, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", 0, transportError(url, err)
	}
	defer resp.Body.Close()

	if fe := statusError(url, resp.StatusCode); fe != nil {
		return "", resp.StatusCode, fe
	}

	f, err := os.CreateTemp(e.tempDir, "kbingest-*.pdf")
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, MaxPDFSize)); err != nil {
		os.Remove(f.Name())
		return "", resp.StatusCode, transportError(url, err)
	}
	return f.Name(), resp.StatusCode, nil
}

func transportError(url string, err error) *FetchError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &FetchError{Kind: KindTimeout, URL: url, Err: err}
	}
	return &FetchError{Kind: KindHTTPError, URL: url, Err: err}
}

// extractPages returns the text of every page in order, plus the document
// title when the info dictionary has one.
func (e *PDFExtractor) extractPages(file string) ([]string, string, error) {
	pdfCtx, err := api.ReadContextFile(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read pdf: %w", err)
	}

	outDir, err := os.MkdirTemp(e.tempDir, "kbingest-pdf-*")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(file, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return nil, "", fmt.Errorf("failed to extract pdf content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, "", err
	}
	texts := make(map[int][]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		page, ok := pageNumber(entry.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			e.logger.Warn("failed to read extracted content", "file", entry.Name(), "err", err)
			continue
		}
		texts[page] = append(texts[page], contentText(data))
	}

	pages := make([]string, 0, pdfCtx.PageCount)
	for n := 1; n <= pdfCtx.PageCount; n++ {
		pages = append(pages, strings.TrimSpace(strings.Join(texts[n], "\n")))
	}
	return pages, strings.TrimSpace(pdfCtx.Title), nil
}

// pageNumber reads the page from extracted content file names such as
// "doc_Content_page_3.txt".
func pageNumber(name string) (int, bool) {
	idx := strings.LastIndex(name, "page_")
	if idx < 0 {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(name[idx+len("page_"):], "%d", &n); err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func documentName(url string) string {
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if name == "." || name == "/" {
		return url
	}
	return strings.TrimSuffix(name, path.Ext(name))
}
