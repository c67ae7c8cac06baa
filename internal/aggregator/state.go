// Package aggregator implements the post-level fan-in described in
// SPEC_FULL.md / spec.md §4.5: merge per-image analysis results by
// (mediaId, service), poll until every expected media id has the required
// core service set or a deadline passes, then compute and publish one
// EnrichedPost per trigger.
package aggregator

import "sync"

// imageState tracks which services have reported for one media id within a
// post, plus enough raw field data to compute the aggregate record.
type imageState struct {
	services map[string]bool
	fields   map[string]map[string]string // service -> raw result fields
	faces    int
}

func newImageState() *imageState {
	return &imageState{services: map[string]bool{}, fields: map[string]map[string]string{}}
}

// hasCoreServices reports whether every service in required has reported.
func (s *imageState) hasCoreServices(required []string) bool {
	for _, svc := range required {
		if !s.services[svc] {
			return false
		}
	}
	return true
}

// postState is the shared, concurrently-updated fan-in buffer for one
// postId: the background stream drainers write into it from one goroutine
// each, and the trigger handler's poll loop reads from it from another.
type postState struct {
	mu    sync.Mutex
	media map[string]*imageState
}

func newPostState() *postState {
	return &postState{media: map[string]*imageState{}}
}

func (p *postState) getOrCreate(mediaID string) *imageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.media[mediaID]
	if !ok {
		s = newImageState()
		p.media[mediaID] = s
	}
	return s
}

// recordResult merges one analysis result by (mediaId, service), applying
// last-value-wins on duplicates per spec §4.5 step 4.
func (p *postState) recordResult(mediaID, service string, fields map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.media[mediaID]
	if !ok {
		s = newImageState()
		p.media[mediaID] = s
	}
	s.services[service] = true
	s.fields[service] = fields
}

// recordFaces merges a face-detection-results entry; last value wins, same
// as recordResult, so a retried duplicate never double-counts faces.
func (p *postState) recordFaces(mediaID string, faceCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.media[mediaID]
	if !ok {
		s = newImageState()
		p.media[mediaID] = s
	}
	s.services["face-detection"] = true
	s.faces = faceCount
}

// snapshot returns a deep copy of the current media map, safe to read
// without holding p.mu: the background drainers keep mutating the live
// *imageState values (their services/fields maps and faces count) after
// this call returns, so every *imageState in the result must be its own
// copy rather than the same pointer held in p.media.
func (p *postState) snapshot() map[string]*imageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*imageState, len(p.media))
	for k, v := range p.media {
		services := make(map[string]bool, len(v.services))
		for svc, ok := range v.services {
			services[svc] = ok
		}
		fields := make(map[string]map[string]string, len(v.fields))
		for svc, f := range v.fields {
			fc := make(map[string]string, len(f))
			for fk, fv := range f {
				fc[fk] = fv
			}
			fields[svc] = fc
		}
		out[k] = &imageState{services: services, fields: fields, faces: v.faces}
	}
	return out
}

// registry is the process-wide map of postId -> postState, populated both
// by the background stream drainers and by trigger seeding.
type registry struct {
	mu    sync.Mutex
	posts map[string]*postState
}

func newRegistry() *registry {
	return &registry{posts: map[string]*postState{}}
}

func (r *registry) getOrCreate(postID string) *postState {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok {
		p = newPostState()
		r.posts[postID] = p
	}
	return p
}

func (r *registry) delete(postID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posts, postID)
}
