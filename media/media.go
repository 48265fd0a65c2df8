package media

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// Resolver turns relative media paths into fully-qualified URLs.
type Resolver struct {
	BaseURL     string
	Placeholder string
}

func NewResolver(baseURL, placeholder string) *Resolver {
	return &Resolver{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Placeholder: placeholder,
	}
}

// Resolve never fails: an empty or unparsable path falls back to the placeholder,
// absolute URLs pass through.
func (r *Resolver) Resolve(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return r.Placeholder
	}
	u, err := url.Parse(path)
	if err != nil {
		return r.Placeholder
	}
	if u.IsAbs() {
		return path
	}
	if r.BaseURL == "" {
		return "/" + strings.TrimLeft(path, "/")
	}
	return r.BaseURL + "/" + strings.TrimLeft(path, "/")
}

type Media struct {
	Path      string    `json:"path"`
	URL       string    `json:"url,omitempty"`
	MsgID     string    `json:"msg_id,omitempty"`
	CreatedAt time.Time `json:"create_time"`
}

// SortMedia returns a copy ordered by create time, then path.
func SortMedia(media []Media) []Media {
	out := append([]Media(nil), media...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Path < out[j].Path
	})
	return out
}
