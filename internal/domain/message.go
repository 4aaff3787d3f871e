package domain

import "unicode/utf16"

// MaxCaptionLen is Telegram's caption limit, counted in UTF-16 code units.
const MaxCaptionLen = 1024

// ContentKind identifies which single payload a relayed message carries.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindPhoto     ContentKind = "photo"
	KindVideo     ContentKind = "video"
	KindVoice     ContentKind = "voice"
	KindVideoNote ContentKind = "video_note"
	KindSticker   ContentKind = "sticker"
	KindAnimation ContentKind = "animation"
	KindAudio     ContentKind = "audio"
	KindDocument  ContentKind = "document"
)

// Captioned reports whether captions are forwarded for this kind.
func (k ContentKind) Captioned() bool {
	return k == KindPhoto || k == KindVideo
}

// Content is an inbound payload. FileID is an opaque transport handle and is
// passed through uninterpreted.
type Content struct {
	Kind    ContentKind
	Text    string
	FileID  string
	Caption string
}

// Delivery is one outbound relayed message. Icon tags the sender's role
// relative to the recipient; no sender identity is ever attached.
type Delivery struct {
	ChatID  int64
	Icon    string
	Content Content
}

// Choice is an inline button offered to a user.
type Choice struct {
	Label string
	Data  string
}

// TaggedText is the text body as the recipient sees it.
func (d Delivery) TaggedText() string {
	return d.Icon + ": " + d.Content.Text
}

// TaggedCaption is the caption for captioned kinds, always carrying the icon.
// The user's caption is cut so the result stays within MaxCaptionLen.
func (d Delivery) TaggedCaption() string {
	if d.Content.Caption == "" {
		return d.Icon
	}
	prefix := d.Icon + ": "
	return prefix + truncateUTF16(d.Content.Caption, MaxCaptionLen-utf16Len(prefix))
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func truncateUTF16(s string, limit int) string {
	n := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if n+w > limit {
			return s[:i]
		}
		n += w
	}
	return s
}
