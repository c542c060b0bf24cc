// Package banner picks the header image attached to a village's weather post.
package banner

import (
	"hash/fnv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tinglebot/weather-service/internal/domain"
)

// DefaultBanners lists the banner files shipped for each village.
var DefaultBanners = map[domain.Village][]string{
	domain.Rudania: {"rudania_banner_1.png", "rudania_banner_2.png", "rudania_banner_3.png"},
	domain.Inariko: {"inariko_banner_1.png", "inariko_banner_2.png", "inariko_banner_3.png"},
	domain.Vhintl:  {"vhintl_banner_1.png", "vhintl_banner_2.png", "vhintl_banner_3.png"},
}

// Selector maps a (village, period) pair to one banner. The choice only
// depends on its inputs, so every replica and every restart agrees on it.
type Selector struct {
	banners map[domain.Village][]string
	cache   *cache.Cache
}

// NewSelector caches selections for ttl. A nil banners map uses DefaultBanners.
func NewSelector(banners map[domain.Village][]string, ttl time.Duration) *Selector {
	if banners == nil {
		banners = DefaultBanners
	}
	return &Selector{banners: banners, cache: cache.New(ttl, 2*ttl)}
}

// Select returns the banner for village on the period starting at
// periodStart, or "" when the village has none.
func (s *Selector) Select(village domain.Village, periodStart time.Time) string {
	list := s.banners[village]
	if len(list) == 0 {
		return ""
	}
	key := string(village) + "|" + periodStart.UTC().Format(time.RFC3339)
	if v, ok := s.cache.Get(key); ok {
		return v.(string)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	choice := list[h.Sum32()%uint32(len(list))]

	s.cache.Set(key, choice, cache.DefaultExpiration)
	return choice
}
