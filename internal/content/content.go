// Package content models what an operator composes for a broadcast: a closed
// set of message kinds, their formatting spans, and the optional inline link
// button attached to every send.
package content

// Kind names a content variant.
type Kind string

const (
	KindText        Kind = "text"
	KindPhoto       Kind = "photo"
	KindVideo       Kind = "video"
	KindDocument    Kind = "document"
	KindVoice       Kind = "voice"
	KindVideoNote   Kind = "video_note"
	KindUnsupported Kind = "unsupported"
)

// Item is one of Text, Photo, Video, Document, Voice, VideoNote or Unsupported.
// Values are immutable once constructed.
type Item interface {
	Kind() Kind
	isItem()
}

// Entity is a formatting span over UTF-16 code units, as the platform reports it.
type Entity struct {
	Type          string `json:"type"`
	Offset        int    `json:"offset"`
	Length        int    `json:"length"`
	URL           string `json:"url,omitempty"`
	Language      string `json:"language,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

// Text is a plain text message. Bare marks a raw string that did not come
// from a platform message; bare text is sent as-is and never relayed.
type Text struct {
	Body      string
	Entities  []Entity
	ParseMode string
	Bare      bool
}

// Upload is media held in memory for re-upload under another identity.
type Upload struct {
	Name string
	Data []byte
}

// Media is the common part of every file-backed variant.
//
// FileID is only valid for the identity that received it. When Upload is set
// the bytes are sent instead of FileID.
type Media struct {
	FileID   string
	UniqueID string
	FileName string
	Caption  string
	Entities []Entity
	Upload   *Upload
}

type (
	Photo     struct{ Media }
	Video     struct{ Media }
	Document  struct{ Media }
	Voice     struct{ Media }
	VideoNote struct{ Media }
)

// Unsupported is anything the dispatcher cannot deliver (stickers, polls, albums...).
type Unsupported struct {
	Reason string
}

func (Text) Kind() Kind        { return KindText }
func (Photo) Kind() Kind       { return KindPhoto }
func (Video) Kind() Kind       { return KindVideo }
func (Document) Kind() Kind    { return KindDocument }
func (Voice) Kind() Kind       { return KindVoice }
func (VideoNote) Kind() Kind   { return KindVideoNote }
func (Unsupported) Kind() Kind { return KindUnsupported }

func (Text) isItem()        {}
func (Photo) isItem()       {}
func (Video) isItem()       {}
func (Document) isItem()    {}
func (Voice) isItem()       {}
func (VideoNote) isItem()   {}
func (Unsupported) isItem() {}

// MediaOf returns the shared media part and true for file-backed variants.
func MediaOf(it Item) (Media, bool) {
	switch v := it.(type) {
	case Photo:
		return v.Media, true
	case Video:
		return v.Media, true
	case Document:
		return v.Media, true
	case Voice:
		return v.Media, true
	case VideoNote:
		return v.Media, true
	default:
		return Media{}, false
	}
}

// WithMedia returns a copy of it with its media part replaced. Non-media items
// are returned unchanged.
func WithMedia(it Item, m Media) Item {
	switch it.(type) {
	case Photo:
		return Photo{m}
	case Video:
		return Video{m}
	case Document:
		return Document{m}
	case Voice:
		return Voice{m}
	case VideoNote:
		return VideoNote{m}
	default:
		return it
	}
}

// Captioned reports whether the platform accepts a caption for this kind.
func Captioned(k Kind) bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument, KindVoice:
		return true
	default:
		return false
	}
}

// Summary is a short human label for logs and operator prompts.
func Summary(it Item) string {
	if it == nil {
		return "nil"
	}
	if u, ok := it.(Unsupported); ok && u.Reason != "" {
		return string(KindUnsupported) + "(" + u.Reason + ")"
	}
	return string(it.Kind())
}
