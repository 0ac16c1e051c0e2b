package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"telegram_news/internal/display"
	"telegram_news/internal/domain"
	"telegram_news/internal/media"
	"telegram_news/internal/metrics"
	"telegram_news/internal/telegram"
)

type sentRequest struct {
	token string
	req   telegram.Request
}

type reply struct {
	status     int
	retryAfter time.Duration
	err        error
}

// scriptedSender answers sends from a fixed script, in order.
type scriptedSender struct {
	script []reply
	sent   []sentRequest
}

func (s *scriptedSender) Send(_ context.Context, token string, req telegram.Request) (*telegram.Response, error) {
	s.sent = append(s.sent, sentRequest{token: token, req: req})
	if len(s.script) == 0 {
		return &telegram.Response{StatusCode: http.StatusOK, OK: true}, nil
	}
	r := s.script[0]
	s.script = s.script[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &telegram.Response{StatusCode: r.status, OK: r.status == http.StatusOK, RetryAfter: r.retryAfter}, nil
}

type countingRecorder struct {
	ids []string
	err error
}

func (r *countingRecorder) RecordPosted(_ context.Context, id string) error {
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, id)
	return nil
}

type urlMedia struct {
	released int
}

func (m *urlMedia) Photo(_ context.Context, u string, _ map[string]string) media.Attachment {
	return media.Attachment{Ref: u}
}

func (m *urlMedia) Video(_ context.Context, u string, _ map[string]string) media.Attachment {
	return media.Attachment{
		Ref:      "attach://v",
		Thumb:    "attach://v_thumb",
		Files:    map[string]string{"v": "/tmp/v.mp4", "v_thumb": "/tmp/v_thumb.jpg"},
		Duration: 12, Width: 640, Height: 360,
	}
}

func (m *urlMedia) Release(atts ...media.Attachment) { m.released += len(atts) }

type PublisherSuite struct {
	suite.Suite
	sender   *scriptedSender
	recorder *countingRecorder
	media    *urlMedia
	slept    []time.Duration
}

func (s *PublisherSuite) SetupTest() {
	s.sender = &scriptedSender{}
	s.recorder = &countingRecorder{}
	s.media = &urlMedia{}
	s.slept = nil
}

func (s *PublisherSuite) newPublisher(cfg Config) *Publisher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := New(cfg, s.sender, s.media, NewLimiter(0, 0), s.recorder, metrics.New(), logger)
	p.sleep = func(_ context.Context, d time.Duration) error {
		s.slept = append(s.slept, d)
		return nil
	}
	return p
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

var textMsg = display.Message{Text: "<b>t</b>", ParseMode: display.ParseModeHTML, DisableWebPagePreview: true}

func (s *PublisherSuite) TestRecordsOnceAcrossDestinations() {
	p := s.newPublisher(Config{Tokens: []string{"t1"}, Destinations: []string{"@a", "@b", "@c"}, MaxRequeue: 3})

	report, err := p.Publish(context.Background(), domain.NewsItem{ID: "A"}, textMsg)
	s.Require().NoError(err)
	s.Equal(3, report.Delivered)
	s.True(report.Recorded)
	s.False(report.Incomplete)
	s.Equal([]string{"A"}, s.recorder.ids)
	s.Require().Len(s.sender.sent, 3)
	s.Equal("@c", s.sender.sent[2].req.Fields["chat_id"])
	s.Equal("true", s.sender.sent[0].req.Fields["disable_web_page_preview"])
}

// Destination 1 succeeds; destination 2 is rate limited on the only token.
func (s *PublisherSuite) TestRateLimitAfterSuccessRequeues() {
	s.sender.script = []reply{
		{status: http.StatusOK},
		{status: http.StatusTooManyRequests, retryAfter: 5 * time.Second},
		{status: http.StatusOK},
	}
	p := s.newPublisher(Config{Tokens: []string{"only"}, Destinations: []string{"@one", "@two"}, MaxRequeue: 3})

	report, err := p.Publish(context.Background(), domain.NewsItem{ID: "X"}, textMsg)
	s.Require().NoError(err)
	s.Equal([]time.Duration{5 * time.Second}, s.slept)
	s.True(report.Incomplete)
	s.Equal(2, report.Delivered)
	s.Equal([]string{"X"}, s.recorder.ids)

	s.Require().Len(s.sender.sent, 3)
	s.Equal("@two", s.sender.sent[1].req.Fields["chat_id"])
	s.Equal("@two", s.sender.sent[2].req.Fields["chat_id"])
	s.Equal("only", s.sender.sent[2].token)
}

func (s *PublisherSuite) TestRateLimitOnFirstDestinationAborts() {
	s.sender.script = []reply{
		{status: http.StatusTooManyRequests, retryAfter: time.Second},
		{status: http.StatusTooManyRequests, retryAfter: 3 * time.Second},
	}
	p := s.newPublisher(Config{Tokens: []string{"t1", "t2"}, Destinations: []string{"@one", "@two"}, MaxRequeue: 3})

	report, err := p.Publish(context.Background(), domain.NewsItem{ID: "X"}, textMsg)
	s.Require().NoError(err)
	s.True(report.Incomplete)
	s.Zero(report.Delivered)
	s.Empty(s.recorder.ids)
	// the second token is used before backing off with its delay
	s.Equal([]time.Duration{3 * time.Second}, s.slept)
	s.Require().Len(s.sender.sent, 2)
	s.Equal("t2", s.sender.sent[1].token)
}

func (s *PublisherSuite) TestRequeueIsBounded() {
	s.sender.script = []reply{
		{status: http.StatusOK},
		{status: http.StatusTooManyRequests, retryAfter: time.Second},
		{status: http.StatusTooManyRequests, retryAfter: time.Second},
		{status: http.StatusTooManyRequests, retryAfter: time.Second},
	}
	p := s.newPublisher(Config{Tokens: []string{"t"}, Destinations: []string{"@one", "@two"}, MaxRequeue: 2})

	report, err := p.Publish(context.Background(), domain.NewsItem{ID: "X"}, textMsg)
	s.Require().NoError(err)
	s.Len(s.sender.sent, 4)
	s.Len(s.slept, 3)
	s.Equal(1, report.Delivered)
	s.True(report.Recorded)
}

func (s *PublisherSuite) TestOtherErrorsMoveOnWithoutRecording() {
	s.sender.script = []reply{
		{status: http.StatusBadRequest},
		{err: errors.New("connection reset")},
		{status: http.StatusForbidden},
	}
	p := s.newPublisher(Config{Tokens: []string{"t1", "t2"}, Destinations: []string{"@one", "@two"}, MaxRequeue: 3})

	report, err := p.Publish(context.Background(), domain.NewsItem{ID: "X"}, textMsg)
	s.Require().NoError(err)
	s.True(report.Incomplete)
	s.Equal(1, report.Delivered)
	s.Len(s.sender.sent, 4)
	s.Empty(s.slept)
	s.Equal([]string{"X"}, s.recorder.ids)
}

func (s *PublisherSuite) TestRecordFailureRetriedOnNextSuccess() {
	s.recorder.err = errors.New("db down")
	p := s.newPublisher(Config{Tokens: []string{"t"}, Destinations: []string{"@one"}})

	report, err := p.Publish(context.Background(), domain.NewsItem{ID: "X"}, textMsg)
	s.Require().NoError(err)
	s.Equal(1, report.Delivered)
	s.False(report.Recorded)
}

func (s *PublisherSuite) TestEmptyMessageIsSkipped() {
	p := s.newPublisher(Config{Tokens: []string{"t"}, Destinations: []string{"@one"}})

	report, err := p.Publish(context.Background(), domain.NewsItem{ID: "X"}, display.Message{})
	s.Require().NoError(err)
	s.True(report.Skipped)
	s.Empty(s.sender.sent)
}

func (s *PublisherSuite) TestPhotoAndVideoMethods() {
	p := s.newPublisher(Config{Tokens: []string{"t"}, Destinations: []string{"@one"}})

	_, err := p.Publish(context.Background(), domain.NewsItem{ID: "1", Images: []string{"http://x.com/a.jpg"}}, textMsg)
	s.Require().NoError(err)
	photo := s.sender.sent[0].req
	s.Equal(telegram.MethodSendPhoto, photo.Method)
	s.Equal("http://x.com/a.jpg", photo.Fields["photo"])
	s.Equal("<b>t</b>", photo.Fields["caption"])
	s.Nil(photo.Files)

	_, err = p.Publish(context.Background(), domain.NewsItem{ID: "2", Videos: []string{"http://x.com/v.mp4"}}, textMsg)
	s.Require().NoError(err)
	video := s.sender.sent[1].req
	s.Equal(telegram.MethodSendVideo, video.Method)
	s.Equal("attach://v", video.Fields["video"])
	s.Equal("attach://v_thumb", video.Fields["thumbnail"])
	s.Equal("12", video.Fields["duration"])
	s.Equal("640", video.Fields["width"])
	s.Len(video.Files, 2)
	s.Equal(2, s.media.released)
}

func (s *PublisherSuite) TestMediaGroupCaptionAndCap() {
	p := s.newPublisher(Config{Tokens: []string{"t"}, Destinations: []string{"@one"}, MaxMediaPerGroup: 3})

	item := domain.NewsItem{
		ID:     "1",
		Images: []string{"http://x.com/1.jpg", "http://x.com/2.jpg"},
		Videos: []string{"http://x.com/v1.mp4", "http://x.com/v2.mp4"},
	}
	_, err := p.Publish(context.Background(), item, textMsg)
	s.Require().NoError(err)

	req := s.sender.sent[0].req
	s.Equal(telegram.MethodSendMediaGroup, req.Method)
	var group []inputMedia
	s.Require().NoError(json.Unmarshal([]byte(req.Fields["media"]), &group))
	s.Require().Len(group, 3)
	s.Equal("<b>t</b>", group[0].Caption)
	s.Equal(display.ParseModeHTML, group[0].ParseMode)
	s.Empty(group[1].Caption)
	s.Equal("video", group[2].Type)
	s.True(group[2].SupportsStreaming)
}

func TestSelectMethod(t *testing.T) {
	assert.Equal(t, telegram.MethodSendMessage, SelectMethod(0, 0))
	assert.Equal(t, telegram.MethodSendPhoto, SelectMethod(1, 0))
	assert.Equal(t, telegram.MethodSendVideo, SelectMethod(0, 1))
	assert.Equal(t, telegram.MethodSendMediaGroup, SelectMethod(1, 1))
	assert.Equal(t, telegram.MethodSendMediaGroup, SelectMethod(2, 0))
}

func TestLimiter_BlocksBeyondBudget(t *testing.T) {
	l := NewLimiter(2, 200*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}
