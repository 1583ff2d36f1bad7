package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// NewsProvider fetches current top headlines.
type NewsProvider interface {
	Headlines(ctx context.Context) ([]string, error)
}

// NewsAPI talks to the newsapi.org top-headlines endpoint.
type NewsAPI struct {
	apiKey   string
	baseURL  string
	country  string
	pageSize int
	client   *http.Client
}

// NewNewsAPI creates a news provider.
func NewNewsAPI(apiKey, baseURL, country string, pageSize int) *NewsAPI {
	return &NewsAPI{
		apiKey:   apiKey,
		baseURL:  baseURL,
		country:  country,
		pageSize: pageSize,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type newsAPIResponse struct {
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

func (n *NewsAPI) Headlines(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("country", n.country)
	q.Set("apiKey", n.apiKey)
	q.Set("pageSize", strconv.Itoa(n.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(body.Articles) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	headlines := make([]string, 0, len(body.Articles))
	for _, a := range body.Articles {
		title := a.Title
		if len(title) > 100 {
			title = title[:100] + "..."
		}
		headlines = append(headlines, title)
	}
	return headlines, nil
}
