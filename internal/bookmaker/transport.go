package bookmaker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
)

const maxErrorBody = 1 << 10

// messenger is implemented by response schemas that carry a provider message.
type messenger interface {
	message() string
}

// httpTransport performs JSON calls and turns failures into domain.ProviderError.
type httpTransport struct {
	bookmaker string
	client    *http.Client
}

func newHTTPTransport(bookmaker string, timeout time.Duration) httpTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return httpTransport{bookmaker: bookmaker, client: &http.Client{Timeout: timeout}}
}

func (t httpTransport) newRequest(ctx context.Context, method, url string, body any) (*http.Request, []byte, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s request: %w", t.bookmaker, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("build %s request: %w", t.bookmaker, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, raw, nil
}

// do sends req and decodes a JSON response into out. 4xx answers with a
// decodable body are definite refusals; everything else is ambiguous.
func (t httpTransport) do(op string, req *http.Request, out any) error {
	start := time.Now()
	resp, err := t.client.Do(req)
	observability.ObserveProviderCall(t.bookmaker, op, time.Since(start))
	if err != nil {
		return &domain.ProviderError{Bookmaker: t.bookmaker, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.ProviderError{Bookmaker: t.bookmaker, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return &domain.ProviderError{Bookmaker: t.bookmaker, Op: op, Message: fmt.Sprintf("http %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ProviderError{
			Bookmaker: t.bookmaker,
			Op:        op,
			Message:   fmt.Sprintf("http %d: undecodable response: %s", resp.StatusCode, truncate(body)),
			Err:       err,
		}
	}
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("http %d", resp.StatusCode)
		if m, ok := out.(messenger); ok && m.message() != "" {
			msg += ": " + m.message()
		}
		return &domain.ProviderError{Bookmaker: t.bookmaker, Op: op, Message: msg, Definite: true}
	}
	return nil
}

func (t httpTransport) refused(op, message string) error {
	if message == "" {
		message = "refused"
	}
	return &domain.ProviderError{Bookmaker: t.bookmaker, Op: op, Message: message, Definite: true}
}

func (t httpTransport) invalidAmount(op string, err error) error {
	return &domain.ProviderError{Bookmaker: t.bookmaker, Op: op, Message: "invalid amount", Err: err}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
