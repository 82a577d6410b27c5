package client

import "errors"

// The gallery holds one large display image plus a bounded strip of
// thumbnails, all persisted locally as data URLs. Nothing here crosses the
// wire; the gallery is per-client scenery.

// GalleryThumbLimit caps the thumbnail strip.
const GalleryThumbLimit = 16

// Gallery is the persisted gallery contents.
type Gallery struct {
	Large  string   `json:"large,omitempty"`
	Thumbs []string `json:"thumbs,omitempty"`
}

// LoadGallery reads the persisted gallery, empty when never saved.
func (e *Engine) LoadGallery() (Gallery, error) {
	var g Gallery
	if _, err := e.store.GetJSON(keyGalleryThumbs, &g.Thumbs); err != nil {
		return Gallery{}, err
	}
	large, _, err := e.store.Get(keyGalleryLarge)
	if err != nil {
		return Gallery{}, err
	}
	g.Large = large
	return g, nil
}

// SetGalleryLarge persists the large display image.
func (e *Engine) SetGalleryLarge(dataURL string) error {
	return e.store.Put(keyGalleryLarge, dataURL)
}

// AddGalleryThumbs appends thumbnails, truncating at the strip limit. The
// first thumbnail ever added also becomes the large image.
func (e *Engine) AddGalleryThumbs(dataURLs ...string) error {
	g, err := e.LoadGallery()
	if err != nil {
		return err
	}

	g.Thumbs = append(g.Thumbs, dataURLs...)
	if len(g.Thumbs) > GalleryThumbLimit {
		g.Thumbs = g.Thumbs[:GalleryThumbLimit]
	}
	if g.Large == "" && len(g.Thumbs) > 0 {
		if err := e.store.Put(keyGalleryLarge, g.Thumbs[0]); err != nil {
			return err
		}
	}
	return e.store.PutJSON(keyGalleryThumbs, g.Thumbs)
}

// RemoveGalleryThumb deletes the thumbnail at idx.
func (e *Engine) RemoveGalleryThumb(idx int) error {
	g, err := e.LoadGallery()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(g.Thumbs) {
		return errors.New("thumbnail index out of range")
	}
	return e.store.PutJSON(keyGalleryThumbs, append(g.Thumbs[:idx], g.Thumbs[idx+1:]...))
}
