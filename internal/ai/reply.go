package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/logger"
)

const (
	DefaultReplyCount  = 3
	replyTemperature   = 0.7
	replyMaxTokens     = 500
	maxThreatLevel     = 100
	screenshotMarkerRE = `\[SCREENSHOT_URL:\s*(.*?)\]`
)

var screenshotMarker = regexp.MustCompile(screenshotMarkerRE)

// Dossier is what the model is told about the person being replied to.
type Dossier struct {
	Name          string
	Category      string
	RoleTitle     string
	Context       string
	ScreenshotURL string
}

// ReplyRequest is one generation call.
type ReplyRequest struct {
	Message        string
	Profile        Dossier
	Tone           Tone
	CustomTone     string
	IsRegeneration bool
}

// Analysis is the model's read on the incoming message.
type Analysis struct {
	Translation    string `json:"translation"`
	ThreatLevel    int    `json:"threat_level"`
	StrategyAdvice string `json:"strategy_advice"`
}

// ReplyResult is the parsed model output. Degraded is set when the content
// was not valid JSON and the raw text is returned as the only reply.
type ReplyResult struct {
	Replies  []string  `json:"replies"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Degraded bool      `json:"degraded"`
	Model    string    `json:"model"`
}

// ReplyService renders the prompt, calls the completer and parses the answer.
type ReplyService struct {
	completer   ChatCompleter
	textModel   string
	visionModel string
	count       int
	timeout     time.Duration
	log         zerolog.Logger
}

// ReplyOption configures a ReplyService.
type ReplyOption func(*ReplyService)

// WithModels sets the text and vision model names.
func WithModels(text, vision string) ReplyOption {
	return func(s *ReplyService) {
		if text != "" {
			s.textModel = text
		}
		if vision != "" {
			s.visionModel = vision
		}
	}
}

// WithReplyCount sets how many replies are requested.
func WithReplyCount(n int) ReplyOption {
	return func(s *ReplyService) {
		if n > 0 {
			s.count = n
		}
	}
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) ReplyOption {
	return func(s *ReplyService) { s.timeout = d }
}

// NewReplyService creates a reply service
func NewReplyService(completer ChatCompleter, opts ...ReplyOption) *ReplyService {
	s := &ReplyService{
		completer:   completer,
		textModel:   DefaultGroqModel,
		visionModel: DefaultVisionModel,
		count:       DefaultReplyCount,
		log:         logger.Component("ai"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate produces reply suggestions. Transport and API errors are returned
// unchanged; content that fails to parse degrades to a single raw reply.
func (s *ReplyService) Generate(ctx context.Context, req ReplyRequest) (*ReplyResult, error) {
	imageURL, cleanContext := splitScreenshot(req.Profile)

	model := s.textModel
	if imageURL != "" {
		model = s.visionModel
	}

	prompt, err := RenderReplyPrompt(ReplyData{
		Name:         req.Profile.Name,
		Category:     req.Profile.Category,
		RoleTitle:    req.Profile.RoleTitle,
		Context:      cleanContext,
		Message:      req.Message,
		Tone:         req.Tone.Describe(req.CustomTone),
		Count:        s.count,
		HasImage:     imageURL != "",
		Regeneration: req.IsRegeneration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render reply prompt: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := s.completer.Complete(ctx, CompletionRequest{
		Model:       model,
		Prompt:      prompt,
		ImageURL:    imageURL,
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("reply generation failed: %w", err)
	}

	result, err := ParseReplies(content)
	if err != nil {
		return nil, err
	}
	result.Model = model

	ev := s.log.Info()
	if result.Degraded {
		ev = s.log.Warn()
	}
	ev.Str("model", model).
		Bool("image", imageURL != "").
		Int("replies", len(result.Replies)).
		Bool("degraded", result.Degraded).
		Dur("took", time.Since(start)).
		Msg("replies generated")

	return result, nil
}

// splitScreenshot returns the screenshot URL for the profile and the context
// with any embedded [SCREENSHOT_URL: ...] marker removed.
func splitScreenshot(p Dossier) (string, string) {
	url := strings.TrimSpace(p.ScreenshotURL)
	ctx := p.Context
	if m := screenshotMarker.FindStringSubmatch(ctx); m != nil {
		if url == "" {
			url = strings.TrimSpace(m[1])
		}
		ctx = screenshotMarker.ReplaceAllString(ctx, "")
	}
	return url, strings.TrimSpace(ctx)
}

type rawReplyPayload struct {
	Replies  json.RawMessage `json:"replies"`
	Analysis *struct {
		Translation    string  `json:"translation"`
		ThreatLevel    float64 `json:"threat_level"`
		StrategyAdvice string  `json:"strategy_advice"`
	} `json:"analysis"`
}

// ParseReplies extracts replies and analysis from model output. It accepts
// the JSON object form, a bare JSON array of strings, and either wrapped in
// markdown code fences. Anything else becomes a degraded single reply.
func ParseReplies(content string) (*ReplyResult, error) {
	text := stripFences(content)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	if obj, ok := between(text, '{', '}'); ok {
		if res, err := parseObject(obj); err == nil {
			return res, nil
		}
	}
	if arr, ok := between(text, '[', ']'); ok {
		if replies, err := parseReplyList([]byte(arr)); err == nil && len(replies) > 0 {
			return &ReplyResult{Replies: replies}, nil
		}
	}

	return &ReplyResult{Replies: []string{text}, Degraded: true}, nil
}

func parseObject(obj string) (*ReplyResult, error) {
	var raw rawReplyPayload
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, err
	}
	replies, err := parseReplyList(raw.Replies)
	if err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, ErrMalformedResponse
	}

	res := &ReplyResult{Replies: replies}
	if raw.Analysis != nil {
		res.Analysis = &Analysis{
			Translation:    strings.TrimSpace(raw.Analysis.Translation),
			ThreatLevel:    clampThreat(raw.Analysis.ThreatLevel),
			StrategyAdvice: strings.TrimSpace(raw.Analysis.StrategyAdvice),
		}
	}
	return res, nil
}

// parseReplyList accepts ["a","b"] or {"1":"a","2":"b"}; keyed objects are
// ordered numerically when the keys are numbers, lexically otherwise.
func parseReplyList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, ErrMalformedResponse
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return compact(list), nil
	}

	var keyed map[string]string
	if err := json.Unmarshal(data, &keyed); err != nil {
		return nil, ErrMalformedResponse
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyed[k])
	}
	return compact(out), nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func between(s string, open, close byte) (string, bool) {
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i == -1 || j <= i {
		return "", false
	}
	return s[i : j+1], true
}

func clampThreat(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxThreatLevel {
		return maxThreatLevel
	}
	return int(math.Round(v))
}
