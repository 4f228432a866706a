// environment.go describes the browser facts pulse reads from its host.

package pulse

import (
	"net/url"
	"sync"
)

// Environment exposes the facts a browser page makes available to scripts.
// pulse only reads them.
type Environment interface {
	UserAgent() string
	Language() string
	Timezone() string
	Screen() Screen
	Referrer() string
	// URL is the current page location, including the query string.
	URL() *url.URL
	Title() string
}

// PageEnv is a mutable Environment for hosts that render pages themselves and
// for tests. Navigate updates the location and title together.
type PageEnv struct {
	Agent    string
	Lang     string
	Zone     string
	Display  Screen
	Referral string

	mu    sync.RWMutex
	url   *url.URL
	title string
}

// NewPageEnv returns a PageEnv positioned at rawURL. An unparsable URL falls
// back to "/".
func NewPageEnv(rawURL, title string) *PageEnv {
	e := &PageEnv{}
	e.Navigate(rawURL, title)
	return e
}

// Navigate moves the page to rawURL.
func (e *PageEnv) Navigate(rawURL, title string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	e.mu.Lock()
	e.url = u
	e.title = title
	e.mu.Unlock()
}

// Path returns the current path, suitable as a PollingSource reader.
func (e *PageEnv) Path() string {
	return e.URL().Path
}

func (e *PageEnv) UserAgent() string { return e.Agent }
func (e *PageEnv) Language() string  { return e.Lang }
func (e *PageEnv) Timezone() string  { return e.Zone }
func (e *PageEnv) Screen() Screen    { return e.Display }
func (e *PageEnv) Referrer() string  { return e.Referral }

func (e *PageEnv) URL() *url.URL {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.url == nil {
		return &url.URL{Path: "/"}
	}
	u := *e.url
	return &u
}

func (e *PageEnv) Title() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.title
}

// pageURL returns env's location, or "/" when the host reports none.
func pageURL(env Environment) *url.URL {
	if u := env.URL(); u != nil {
		return u
	}
	return &url.URL{Path: "/"}
}
