package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// List returns the file names published under a remote folder, by parsing the
// provider's HTML directory index. Navigation and sort links are skipped.
func (c *Client) List(ctx context.Context, remoteDir string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	locator := c.remoteURL(remoteDir) + "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrFetchFailed{Locator: locator, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ErrNotFound{Locator: locator}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s: unexpected status %s", locator, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse directory index %s: %w", locator, err)
	}

	var names []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "?") ||
			strings.HasPrefix(href, "/") || strings.HasPrefix(href, "..") ||
			strings.HasSuffix(href, "/") {
			return
		}
		names = append(names, href)
	})
	sort.Strings(names)
	return names, nil
}

// LastAvailable returns the lexicographically last file under remoteDir whose
// name starts with prefix. Provider file names embed the date, so for
// date-keyed folders this is the most recently published file.
func (c *Client) LastAvailable(ctx context.Context, remoteDir, prefix string) (string, error) {
	names, err := c.List(ctx, remoteDir)
	if err != nil {
		return "", err
	}
	last := ""
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			last = name
		}
	}
	if last == "" {
		return "", &ErrNotFound{Locator: c.remoteURL(remoteDir) + "/" + prefix + "*"}
	}
	return last, nil
}
