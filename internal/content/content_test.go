package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		link string
		ok   bool
	}{
		{"https with path", "https://example.com/x", true},
		{"http host only", "http://example.com", true},
		{"tg join", "tg://join", true},
		{"tg resolve with query", "tg://resolve?domain=offerbot", true},
		{"tg unknown action", "tg://unknownaction", false},
		{"contains space", "https://example.com/a b", false},
		{"contains angle bracket", "https://example.com/<x", false},
		{"contains brace", "https://example.com/{x}", false},
		{"too short", "http", false},
		{"ftp scheme", "ftp://example.com/file", false},
		{"no host", "https:///path", false},
		{"too long", "https://example.com/" + strings.Repeat("a", MaxLinkLen), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLink(tt.link)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateLinkReportsTGAction(t *testing.T) {
	t.Parallel()

	err := ValidateLink("tg://unknownaction")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknownaction")
}

func TestValidateLabel(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateLabel(strings.Repeat("a", 64)))
	assert.NoError(t, ValidateLabel(strings.Repeat("я", 64)))
	assert.ErrorIs(t, ValidateLabel(strings.Repeat("a", 65)), ErrLabelLength)
	assert.ErrorIs(t, ValidateLabel("two\nlines"), ErrLabelLines)
	assert.ErrorIs(t, ValidateLabel("a\n"), ErrLabelLines)
	assert.ErrorIs(t, ValidateLabel("   "), ErrLabelEmpty)
}

func TestNewControl(t *testing.T) {
	t.Parallel()

	c, err := NewControl("Открыть", "https://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, &Control{Label: "Открыть", URL: "https://example.com/x"}, c)

	_, err = NewControl("ok", "tg://nope")
	require.Error(t, err)
}

func TestMediaRoundTrip(t *testing.T) {
	t.Parallel()

	items := []Item{
		Photo{Media{FileID: "p"}},
		Video{Media{FileID: "v"}},
		Document{Media{FileID: "d"}},
		Voice{Media{FileID: "o"}},
		VideoNote{Media{FileID: "n"}},
	}
	for _, it := range items {
		m, ok := MediaOf(it)
		require.True(t, ok, it.Kind())
		m.FileID = "replaced"
		got := WithMedia(it, m)
		assert.Equal(t, it.Kind(), got.Kind())
		gm, _ := MediaOf(got)
		assert.Equal(t, "replaced", gm.FileID)
	}

	_, ok := MediaOf(Text{Body: "hi"})
	assert.False(t, ok)
	assert.Equal(t, Unsupported{Reason: "sticker"}, WithMedia(Unsupported{Reason: "sticker"}, Media{}))
}

func TestUploadName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AQAD.jpg", UploadName(Photo{Media{UniqueID: "AQAD"}}))
	assert.Equal(t, "clip.mov", UploadName(Video{Media{FileName: "clip.mov"}}))
	assert.Equal(t, "video.mp4", UploadName(Video{}))
	assert.Equal(t, "report.pdf", UploadName(Document{Media{FileName: "report.pdf"}}))
	assert.Equal(t, "document", UploadName(Document{}))
	assert.Equal(t, "AgAD.ogg", UploadName(Voice{Media{UniqueID: "AgAD"}}))
	assert.Equal(t, "DQAD.mp4", UploadName(VideoNote{Media{UniqueID: "DQAD"}}))
	assert.Equal(t, "video_note.mp4", UploadName(VideoNote{}))
}

func TestSummary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "photo", Summary(Photo{}))
	assert.Equal(t, "unsupported(sticker)", Summary(Unsupported{Reason: "sticker"}))
	assert.Equal(t, "nil", Summary(nil))
}
