package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/quillworks/draftd/internal/workflow"
)

// MockModel is a mock implementation of llms.Model.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages, options)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llms.ContentResponse), args.Error(1)
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	args := m.Called(ctx, prompt, options)
	return args.String(0), args.Error(1)
}

func contentResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}
}

func TestNewLLMWorker_Validation(t *testing.T) {
	_, err := NewLLMWorker("barista", &MockModel{})
	assert.Error(t, err)

	_, err = NewLLMWorker(workflow.RoleUXDesigner, nil)
	assert.Error(t, err)
}

func TestLLMWorker_Invoke(t *testing.T) {
	model := &MockModel{}
	model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(contentResponse(`{"summary":"stories","functional":[{"user_story":"As a user, I can search"}]}`), nil)

	w, err := NewLLMWorker(workflow.RoleUXDesigner, model)
	require.NoError(t, err)

	art, err := w.Invoke(context.Background(), Input{Request: sampleRequest()})
	require.NoError(t, err)
	assert.Equal(t, "stories", art.Summary)
	require.Len(t, art.Functional, 1)
	assert.Equal(t, []workflow.Role{workflow.RoleUXDesigner}, art.Producers)
	model.AssertExpectations(t)
}

func TestLLMWorker_FencedResponse(t *testing.T) {
	model := &MockModel{}
	model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(contentResponse("```json\n{\"summary\":\"fenced\"}\n```"), nil)

	w, err := NewLLMWorker(workflow.RoleQAEngineer, model)
	require.NoError(t, err)

	art, err := w.Invoke(context.Background(), Input{Request: sampleRequest()})
	require.NoError(t, err)
	assert.Equal(t, "fenced", art.Summary)
}

func TestLLMWorker_MalformedResponseIsTransient(t *testing.T) {
	model := &MockModel{}
	model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(contentResponse("sorry, here is prose instead of JSON"), nil)

	w, err := NewLLMWorker(workflow.RoleQAEngineer, model)
	require.NoError(t, err)

	_, err = w.Invoke(context.Background(), Input{Request: sampleRequest()})
	require.Error(t, err)
	assert.False(t, workflow.IsFatal(err), "a re-prompt may still succeed")
}

func TestLLMWorker_GenerationError(t *testing.T) {
	model := &MockModel{}
	model.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("rate limited"))

	w, err := NewLLMWorker(workflow.RoleSolutionArchitect, model)
	require.NoError(t, err)

	_, err = w.Invoke(context.Background(), Input{Request: sampleRequest()})
	require.Error(t, err)
	assert.False(t, workflow.IsFatal(err))
}

func TestLLMWorker_InvalidRequestIsFatal(t *testing.T) {
	w, err := NewLLMWorker(workflow.RoleSystemAnalyst, &MockModel{})
	require.NoError(t, err)

	_, err = w.Invoke(context.Background(), Input{Request: &workflow.BusinessRequirement{}})
	require.Error(t, err)
	assert.True(t, workflow.IsFatal(err))
}
