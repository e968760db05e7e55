package moderation

// ContentKind discriminates what a content item carries.
type ContentKind string

const (
	ContentKindText  ContentKind = "text"
	ContentKindImage ContentKind = "image"
)

// ContentItem is a single unit of content submitted for moderation.
// Exactly one of Text or Image is set.
type ContentItem struct {
	Kind  ContentKind
	Text  string
	Image []byte
}

// Request is an immutable moderation request: one or more content items
// plus optional per-category threshold overrides.
type Request struct {
	Items      []ContentItem
	Thresholds map[string]float64
}
