package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"telegram_news/internal/display"
	"telegram_news/internal/domain"
	"telegram_news/internal/media"
	"telegram_news/internal/telegram"
)

type inputMedia struct {
	Type              string `json:"type"`
	Media             string `json:"media"`
	Caption           string `json:"caption,omitempty"`
	ParseMode         string `json:"parse_mode,omitempty"`
	Thumbnail         string `json:"thumbnail,omitempty"`
	Duration          int    `json:"duration,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	SupportsStreaming bool   `json:"supports_streaming,omitempty"`
}

// outbound is a prepared send, reused for every destination and token.
type outbound struct {
	method      string
	fields      map[string]string
	files       map[string]string
	attachments []media.Attachment
}

func (o outbound) request(chatID string) telegram.Request {
	fields := make(map[string]string, len(o.fields)+1)
	for k, v := range o.fields {
		fields[k] = v
	}
	fields["chat_id"] = chatID
	return telegram.Request{Method: o.method, Fields: fields, Files: o.files}
}

// SelectMethod picks the Bot API method for an item's media counts.
func SelectMethod(images, videos int) string {
	switch {
	case images == 0 && videos == 0:
		return telegram.MethodSendMessage
	case images == 1 && videos == 0:
		return telegram.MethodSendPhoto
	case images == 0 && videos == 1:
		return telegram.MethodSendVideo
	default:
		return telegram.MethodSendMediaGroup
	}
}

func (p *Publisher) prepare(ctx context.Context, item domain.NewsItem, msg display.Message) (outbound, error) {
	images, videos := item.Images, item.Videos
	method := SelectMethod(len(images), len(videos))
	if method == telegram.MethodSendMediaGroup {
		images, videos = capGroup(images, videos, p.cfg.MaxMediaPerGroup)
	}

	out := outbound{
		method: method,
		fields: map[string]string{
			"parse_mode":               msg.ParseMode,
			"disable_web_page_preview": strconv.FormatBool(msg.DisableWebPagePreview),
		},
		files: map[string]string{},
	}

	switch method {
	case telegram.MethodSendMessage:
		out.fields["text"] = msg.Text

	case telegram.MethodSendPhoto:
		att := p.media.Photo(ctx, images[0], p.cfg.Headers)
		out.attach(att)
		out.fields["caption"] = msg.Text
		out.fields["photo"] = att.Ref

	case telegram.MethodSendVideo:
		att := p.media.Video(ctx, videos[0], p.cfg.Headers)
		out.attach(att)
		out.fields["caption"] = msg.Text
		out.fields["video"] = att.Ref
		out.fields["supports_streaming"] = "true"
		if att.Thumb != "" {
			out.fields["thumbnail"] = att.Thumb
		}
		if att.Duration > 0 {
			out.fields["duration"] = strconv.Itoa(att.Duration)
		}
		if att.Width > 0 && att.Height > 0 {
			out.fields["width"] = strconv.Itoa(att.Width)
			out.fields["height"] = strconv.Itoa(att.Height)
		}

	case telegram.MethodSendMediaGroup:
		group := make([]inputMedia, 0, len(images)+len(videos))
		for _, u := range images {
			att := p.media.Photo(ctx, u, p.cfg.Headers)
			out.attach(att)
			group = append(group, inputMedia{Type: "photo", Media: att.Ref})
		}
		for _, u := range videos {
			att := p.media.Video(ctx, u, p.cfg.Headers)
			out.attach(att)
			group = append(group, inputMedia{
				Type:              "video",
				Media:             att.Ref,
				Thumbnail:         att.Thumb,
				Duration:          att.Duration,
				Width:             att.Width,
				Height:            att.Height,
				SupportsStreaming: true,
			})
		}
		group[0].Caption = msg.Text
		group[0].ParseMode = msg.ParseMode

		encoded, err := json.Marshal(group)
		if err != nil {
			return out, fmt.Errorf("encode media group: %w", err)
		}
		out.fields["media"] = string(encoded)
	}

	if len(out.files) == 0 {
		out.files = nil
	}
	return out, nil
}

func (o *outbound) attach(att media.Attachment) {
	o.attachments = append(o.attachments, att)
	for name, path := range att.Files {
		o.files[name] = path
	}
}

// capGroup keeps at most limit media, images first.
func capGroup(images, videos []string, limit int) ([]string, []string) {
	if limit <= 0 || len(images)+len(videos) <= limit {
		return images, videos
	}
	if len(images) >= limit {
		return images[:limit], nil
	}
	return images, videos[:limit-len(images)]
}
