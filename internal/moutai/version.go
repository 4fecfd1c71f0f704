package moutai

import (
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// The client-version header is scraped from the app-store listing. A
// failed lookup keeps the last-known value so no reservation attempt ever
// blocks on it.
const (
	defaultAppVersion  = "1.8.6"
	defaultAppStoreURL = "https://apps.apple.com/cn/app/i%E8%8C%85%E5%8F%B0/id1600482450"

	versionRefreshInterval = 24 * time.Hour
)

var latestVersionRe = regexp.MustCompile(`new__latest__version">(.*?)</p>`)

type versionSource struct {
	mu      sync.Mutex
	url     string
	hc      *http.Client
	value   string
	fetched time.Time
}

func newVersionSource(url string, hc *http.Client) *versionSource {
	if url == "" {
		url = defaultAppStoreURL
	}
	return &versionSource{url: url, hc: hc, value: defaultAppVersion}
}

// Current returns the last-known client version without blocking on the
// network.
func (v *versionSource) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Refresh fetches the listing if the cached value is older than a day (or
// force is set). On any failure the previous value stays in place and the
// error is returned for logging only.
func (v *versionSource) Refresh(force bool) (string, error) {
	v.mu.Lock()
	if !force && time.Since(v.fetched) < versionRefreshInterval {
		val := v.value
		v.mu.Unlock()
		return val, nil
	}
	v.mu.Unlock()

	resp, err := v.hc.Get(v.url)
	if err != nil {
		return v.Current(), &NetworkError{Op: "fetch app version", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return v.Current(), &NetworkError{Op: "read app version page", Err: err}
	}

	m := latestVersionRe.FindSubmatch(body)
	if m == nil {
		return v.Current(), &RemoteBusinessError{Message: "version marker not found in listing"}
	}
	val := strings.TrimSpace(strings.TrimPrefix(string(m[1]), "版本 "))
	if val == "" {
		return v.Current(), &RemoteBusinessError{Message: "empty version in listing"}
	}

	v.mu.Lock()
	v.value = val
	v.fetched = time.Now()
	v.mu.Unlock()
	return val, nil
}
