package feedback_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/grader/internal/feedback"
	"github.com/jackzampolin/grader/internal/grading"
	"github.com/jackzampolin/grader/internal/llmcall"
	"github.com/jackzampolin/grader/internal/providers"
)

var records = []grading.Record{
	{Question: "What is the capital of France?", StudentAnswer: "Berlin", ReferenceAnswer: "Paris", Score: 0.3, Verdict: grading.Incorrect},
	{Question: "What is the chemical symbol for water?", StudentAnswer: "H2O", ReferenceAnswer: "H2O", Score: 1, Verdict: grading.Correct},
	{Question: "What is the value of pi?", StudentAnswer: "3.15", ReferenceAnswer: "3.14", Score: 0.7, Verdict: grading.Incorrect},
	{Question: "What is the largest planet?", StudentAnswer: "Jupiter", ReferenceAnswer: "Jupiter", Score: 1, Verdict: grading.Correct},
}

// backend answers topic prompts with topicsJSON and everything else with text.
func backend(text, topicsJSON string) *providers.MockClient {
	c := providers.NewMockClient()
	c.Respond = func(req *providers.ChatRequest) (string, error) {
		if strings.Contains(req.Messages[0].Content, "subject topic") {
			return topicsJSON, nil
		}
		return text, nil
	}
	return c
}

func registry(clients map[string]providers.LLMClient) *providers.Registry {
	r := providers.NewRegistry()
	for name, c := range clients {
		r.RegisterLLM(name, c)
	}
	return r
}

func TestGenerate(t *testing.T) {
	client := backend("You did well on chemistry.", `["Geography", "Chemistry", "Math", "Astronomy"]`)
	rec := llmcall.NewRecorder()
	g := feedback.New(feedback.Config{
		Backends: registry(map[string]providers.LLMClient{"model-1": client}),
		Recorder: rec,
	})

	res, err := g.Generate(context.Background(), "model-1", records)
	require.NoError(t, err)
	assert.Equal(t, "You did well on chemistry.", res.FeedbackText)
	assert.Equal(t, "model-1", res.Backend)
	assert.Equal(t, []string{"Geography", "Math"}, res.Wrong)
	assert.Equal(t, []string{"Astronomy", "Chemistry"}, res.Correct)
	assert.Empty(t, res.Controversial)

	req := client.Requests()[0]
	assert.Equal(t, feedback.DefaultMaxTokens, req.MaxTokens)

	prompt := req.Messages[0].Content
	berlin := strings.Index(prompt, "Student's Answer: Berlin")
	pi := strings.Index(prompt, "Student's Answer: 3.15")
	water := strings.Index(prompt, "Student's Answer: H2O")
	jupiter := strings.Index(prompt, "Student's Answer: Jupiter")
	instructions := strings.Index(prompt, "Please analyze")
	require.True(t, berlin >= 0 && pi >= 0 && water >= 0 && jupiter >= 0 && instructions >= 0, prompt)
	assert.Less(t, berlin, pi)
	assert.Less(t, pi, water, "incorrect triples come before correct ones")
	assert.Less(t, water, jupiter)
	assert.Less(t, jupiter, instructions)
	assert.Contains(t, prompt, "Correct Answer: Paris")

	assert.Len(t, rec.Calls(), 2)
}

func TestGenerate_ControversialTopics(t *testing.T) {
	client := backend("feedback", `["A", "B", "B", "C"]`)
	g := feedback.New(feedback.Config{Backends: registry(map[string]providers.LLMClient{"m": client})})

	res, err := g.Generate(context.Background(), "m", records)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Controversial)
	assert.Equal(t, []string{"A"}, res.Wrong)
	assert.Equal(t, []string{"C"}, res.Correct)
}

func TestGenerate_DefaultBackend(t *testing.T) {
	client := backend("feedback", `[]`)
	g := feedback.New(feedback.Config{
		Backends:       registry(map[string]providers.LLMClient{"gpt": client}),
		DefaultBackend: "gpt",
	})
	res, err := g.Generate(context.Background(), "", records)
	require.NoError(t, err)
	assert.Equal(t, "gpt", res.Backend)
}

func TestGenerate_TopicFailureIsNotFatal(t *testing.T) {
	client := backend("feedback", "no idea")
	g := feedback.New(feedback.Config{Backends: registry(map[string]providers.LLMClient{"m": client})})

	res, err := g.Generate(context.Background(), "m", records)
	require.NoError(t, err)
	assert.Equal(t, "feedback", res.FeedbackText)
	assert.Empty(t, res.Wrong)
	assert.Empty(t, res.Correct)
}

func TestGenerate_Errors(t *testing.T) {
	failing := providers.NewMockClient()
	failing.ShouldFail = true
	empty := providers.NewMockClient()
	empty.ResponseText = "   "

	g := feedback.New(feedback.Config{
		Backends: registry(map[string]providers.LLMClient{"bad": failing, "empty": empty}),
	})

	for _, choice := range []string{"missing", "bad", "empty", ""} {
		t.Run(choice, func(t *testing.T) {
			res, err := g.Generate(context.Background(), choice, records)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, feedback.ErrFeedbackGeneration)

			var genErr *feedback.GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, choice, genErr.Backend)
		})
	}
}

func TestBuildPromptData(t *testing.T) {
	data := feedback.BuildPromptData(records, 250)
	require.Len(t, data.Incorrect, 2)
	require.Len(t, data.Correct, 2)
	assert.Equal(t, 1, data.Incorrect[0].Number)
	assert.Equal(t, "Berlin", data.Incorrect[0].StudentAnswer)
	assert.Equal(t, 2, data.Correct[1].Number)
	assert.Equal(t, 250, data.MaxWords)
}
