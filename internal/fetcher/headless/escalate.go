package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// Escalating fetches with Primary and retries through Renderer once when the
// site answers 403, or when Detector flags the static page as unrendered.
type Escalating struct {
	Primary  scrape.Fetcher
	Renderer scrape.Fetcher
	Detector *Detector
	Logger   *zap.Logger
}

// Fetch implements scrape.Fetcher.
func (e *Escalating) Fetch(ctx context.Context, req scrape.FetchRequest) (scrape.FetchResponse, error) {
	resp, err := e.Primary.Fetch(ctx, req)
	if e.Renderer == nil {
		return resp, err
	}
	switch {
	case err != nil && scrape.IsForbidden(err):
		e.log("escalating blocked profile to headless renderer", req.URL)
	case err == nil && e.Detector != nil && e.Detector.NeedsRender(resp):
		e.log("static profile looks unrendered; escalating to headless renderer", req.URL)
	default:
		return resp, err
	}
	return e.Renderer.Fetch(ctx, req)
}

func (e *Escalating) log(msg, url string) {
	if e.Logger != nil {
		e.Logger.Info(msg, zap.String("url", url))
	}
}
