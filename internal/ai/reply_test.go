package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	content string
	err     error
	got     []CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	f.got = append(f.got, req)
	return f.content, f.err
}

func TestParseReplies(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantReplies  []string
		wantDegraded bool
		wantThreat   int
		wantAnalysis bool
	}{
		{
			name:         "object with analysis",
			content:      `{"replies":["a","b","c"],"analysis":{"translation":"they miss you","threat_level":12,"strategy_advice":"keep it light"}}`,
			wantReplies:  []string{"a", "b", "c"},
			wantThreat:   12,
			wantAnalysis: true,
		},
		{
			name:         "fenced object",
			content:      "```json\n{\"replies\":[\"x\"],\"analysis\":{\"threat_level\":250}}\n```",
			wantReplies:  []string{"x"},
			wantThreat:   100,
			wantAnalysis: true,
		},
		{
			name:         "negative threat clamps to zero",
			content:      `{"replies":["x"],"analysis":{"threat_level":-5}}`,
			wantReplies:  []string{"x"},
			wantThreat:   0,
			wantAnalysis: true,
		},
		{
			name:        "bare array with chatter",
			content:     `Sure! Here you go: ["one", "two"] hope that helps`,
			wantReplies: []string{"one", "two"},
		},
		{
			name:        "keyed replies",
			content:     `{"replies":{"2":"second","10":"tenth","1":"first"}}`,
			wantReplies: []string{"first", "second", "tenth"},
		},
		{
			name:        "blank replies dropped",
			content:     `["  ", "kept"]`,
			wantReplies: []string{"kept"},
		},
		{
			name:         "plain prose degrades",
			content:      "Just tell them you're busy.",
			wantReplies:  []string{"Just tell them you're busy."},
			wantDegraded: true,
		},
		{
			name:         "broken json degrades",
			content:      `{"replies": ["a", }`,
			wantReplies:  []string{`{"replies": ["a", }`},
			wantDegraded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseReplies(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReplies, res.Replies)
			assert.Equal(t, tt.wantDegraded, res.Degraded)
			if tt.wantAnalysis {
				require.NotNil(t, res.Analysis)
				assert.Equal(t, tt.wantThreat, res.Analysis.ThreatLevel)
			} else {
				assert.Nil(t, res.Analysis)
			}
		})
	}
}

func TestParseReplies_Empty(t *testing.T) {
	_, err := ParseReplies(" ```json ``` ")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerate_PicksModelByScreenshot(t *testing.T) {
	fc := &fakeCompleter{content: `["ok"]`}
	svc := NewReplyService(fc, WithModels("text-model", "vision-model"))

	_, err := svc.Generate(context.Background(), ReplyRequest{
		Message: "hi",
		Profile: Dossier{Name: "Sam", Category: "friend"},
		Tone:    ToneCasual,
	})
	require.NoError(t, err)

	res, err := svc.Generate(context.Background(), ReplyRequest{
		Message: "hi",
		Profile: Dossier{Name: "Sam", Category: "friend", Context: "met at work [SCREENSHOT_URL: https://img.example/s.png]"},
		Tone:    ToneFormal,
	})
	require.NoError(t, err)

	require.Len(t, fc.got, 2)
	assert.Equal(t, "text-model", fc.got[0].Model)
	assert.Empty(t, fc.got[0].ImageURL)
	assert.Equal(t, "vision-model", fc.got[1].Model)
	assert.Equal(t, "https://img.example/s.png", fc.got[1].ImageURL)
	assert.NotContains(t, fc.got[1].Prompt, "SCREENSHOT_URL")
	assert.Contains(t, fc.got[1].Prompt, "met at work")
	assert.Equal(t, "vision-model", res.Model)
}

func TestGenerate_PromptCarriesDossierAndTone(t *testing.T) {
	fc := &fakeCompleter{content: `["ok"]`}
	svc := NewReplyService(fc, WithReplyCount(4))

	_, err := svc.Generate(context.Background(), ReplyRequest{
		Message:        "are you free friday?",
		Profile:        Dossier{Name: "Priya", Category: "coworker", RoleTitle: "Team lead"},
		Tone:           ToneCustom,
		CustomTone:     "dry British humour",
		IsRegeneration: true,
	})
	require.NoError(t, err)

	prompt := fc.got[0].Prompt
	assert.Contains(t, prompt, "Name: Priya")
	assert.Contains(t, prompt, "Relationship: coworker")
	assert.Contains(t, prompt, "Role: Team lead")
	assert.Contains(t, prompt, `"are you free friday?"`)
	assert.Contains(t, prompt, "Write 4 distinct")
	assert.Contains(t, prompt, "dry British humour")
	assert.Contains(t, prompt, "different angle")
	assert.Equal(t, 0.7, fc.got[0].Temperature)
	assert.Equal(t, 500, fc.got[0].MaxTokens)
}

func TestGenerate_UpstreamErrorIsReturnedOnce(t *testing.T) {
	upstream := &APIError{StatusCode: 503, Message: "overloaded"}
	fc := &fakeCompleter{err: upstream}
	svc := NewReplyService(fc)

	_, err := svc.Generate(context.Background(), ReplyRequest{Message: "hi", Tone: ToneCasual})
	require.Error(t, err)

	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Len(t, fc.got, 1, "no automatic retry")
}

func TestGenerate_DegradesOnProse(t *testing.T) {
	fc := &fakeCompleter{content: "I can't format that, but say hi back."}
	svc := NewReplyService(fc)

	res, err := svc.Generate(context.Background(), ReplyRequest{Message: "hi", Tone: ToneCasual})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"I can't format that, but say hi back."}, res.Replies)
}

func TestParseTone(t *testing.T) {
	tone, ok := ParseTone("")
	assert.True(t, ok)
	assert.Equal(t, ToneCasual, tone)

	tone, ok = ParseTone(" Professional ")
	assert.True(t, ok)
	assert.Equal(t, ToneProfessional, tone)

	_, ok = ParseTone("sarcastic")
	assert.False(t, ok)

	assert.Equal(t, "casual", ToneCustom.Describe("  "))
	assert.Equal(t, "flirty", ToneCustom.Describe("flirty"))
	assert.Equal(t, "formal", ToneFormal.Describe("ignored"))
}
