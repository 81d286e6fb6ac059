package spotify

import (
	"net/url"
	"strings"
)

// ResourceKind はSpotifyリソースの種類。
type ResourceKind string

const (
	KindTrack    ResourceKind = "track"
	KindAlbum    ResourceKind = "album"
	KindPlaylist ResourceKind = "playlist"
)

// Resource は再生対象のSpotifyリソース。
type Resource struct {
	Kind ResourceKind
	ID   string
}

// URI は spotify:<kind>:<id> 形式のURIを返す。
func (r Resource) URI() string {
	return "spotify:" + string(r.Kind) + ":" + r.ID
}

// IsContext はアルバム・プレイリストのようにcontext_uriで再生するリソースかを返す。
func (r Resource) IsContext() bool {
	return r.Kind == KindAlbum || r.Kind == KindPlaylist
}

// webHost はSpotifyの共有リンクのホスト。
const webHost = "open.spotify.com"

// ParseResource はリンクからSpotifyリソースを取り出す。
// open.spotify.com の .../track/<id>、.../album/<id>、.../playlist/<id> 形式のURLと
// spotify:<kind>:<id> 形式のURIを認識する。
func ParseResource(link string) (Resource, bool) {
	link = strings.TrimSpace(link)

	if strings.HasPrefix(strings.ToLower(link), "spotify:") {
		parts := strings.Split(link, ":")
		if len(parts) < 3 {
			return Resource{}, false
		}
		return newResource(parts[1], parts[2])
	}

	u, err := url.Parse(link)
	if err != nil || !strings.EqualFold(u.Hostname(), webHost) {
		return Resource{}, false
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if r, ok := newResource(segments[i], segments[i+1]); ok {
			return r, true
		}
	}
	return Resource{}, false
}

func newResource(kind, id string) (Resource, bool) {
	k := ResourceKind(strings.ToLower(kind))
	if k != KindTrack && k != KindAlbum && k != KindPlaylist {
		return Resource{}, false
	}
	if id == "" || strings.ContainsAny(id, "/?#") {
		return Resource{}, false
	}
	return Resource{Kind: k, ID: id}, true
}
