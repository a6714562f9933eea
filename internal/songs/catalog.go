package songs

import (
	"sync/atomic"
	"time"
)

// Catalog is a read-only snapshot of the loaded songs. Reloads build a new
// Catalog and swap it into the Library as a whole.
type Catalog struct {
	songs    []*Song
	byID     map[string]*Song
	loadedAt time.Time
}

// NewCatalog keeps the first song for every id and preserves input order.
func NewCatalog(list []*Song, loadedAt time.Time) *Catalog {
	c := &Catalog{
		songs:    make([]*Song, 0, len(list)),
		byID:     make(map[string]*Song, len(list)),
		loadedAt: loadedAt,
	}
	for _, s := range list {
		if s == nil {
			continue
		}
		if _, dup := c.byID[s.ID]; dup {
			continue
		}
		c.byID[s.ID] = s
		c.songs = append(c.songs, s)
	}
	return c
}

func (c *Catalog) Get(id string) (*Song, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// First is the fallback song when the host starts without selecting one.
func (c *Catalog) First() *Song {
	if len(c.songs) == 0 {
		return nil
	}
	return c.songs[0]
}

func (c *Catalog) Len() int { return len(c.songs) }

func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }

func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.songs))
	for _, s := range c.songs {
		out = append(out, s.Summary())
	}
	return out
}

type Library struct {
	current atomic.Pointer[Catalog]
}

func NewLibrary(c *Catalog) *Library {
	l := &Library{}
	if c == nil {
		c = NewCatalog(nil, time.Time{})
	}
	l.current.Store(c)
	return l
}

func (l *Library) Current() *Catalog { return l.current.Load() }

// Swap installs c and returns the catalog it replaced.
func (l *Library) Swap(c *Catalog) *Catalog { return l.current.Swap(c) }
