package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/pattern"
	"github.com/supplement-advisor-server/internal/testutil"
)

func connect(t *testing.T, sessions domain.SessionAPI, patterns PatternService) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server, err := NewServer(Config{}, sessions, patterns, testutil.QuietLogger())
	require.NoError(t, err)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSession.Close() })
	return clientSession
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func texts(res *mcp.CallToolResult) []string {
	var out []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out = append(out, tc.Text)
		}
	}
	return out
}

func TestNewServer_RequiresSessions(t *testing.T) {
	_, err := NewServer(Config{}, nil, nil, testutil.QuietLogger())
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	cs := connect(t, &testutil.MockSessionAPI{}, &testutil.MockPatternService{})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"create_session", "get_session_status", "submit_answer", "delete_session",
		"get_pattern_stats", "record_pattern_feedback", "export_patterns", "import_patterns"}, names)
}

func TestServer_ListToolsWithoutPatterns(t *testing.T) {
	cs := connect(t, &testutil.MockSessionAPI{}, nil)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Tools, 4)
}

func TestServer_CreateSession(t *testing.T) {
	sessions := &testutil.MockSessionAPI{}
	sessions.On("CreateSession", mock.Anything, mock.MatchedBy(func(snap domain.HealthSnapshot) bool {
		return snap.BMI != nil && *snap.BMI == 36 && len(snap.Medications) == 1
	})).Return(&domain.Session{
		ID:               "s1",
		Status:           domain.SessionWaitingAnswer,
		CurrentQuestions: []domain.Question{{ID: "q1", Text: "Do you take warfarin daily?"}},
	}, nil)

	cs := connect(t, sessions, nil)
	res := call(t, cs, "create_session", map[string]any{
		"snapshot": map[string]any{"bmi": 36, "medications": []string{"warfarin"}},
	})

	require.False(t, res.IsError, texts(res))
	out := texts(res)
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "s1")

	var sess domain.Session
	require.NoError(t, json.Unmarshal([]byte(out[1]), &sess))
	assert.Equal(t, domain.SessionWaitingAnswer, sess.Status)
	sessions.AssertExpectations(t)
}

func TestServer_CreateSessionFailure(t *testing.T) {
	sessions := &testutil.MockSessionAPI{}
	sessions.On("CreateSession", mock.Anything, mock.Anything).Return(&domain.Session{
		ID: "s2", Status: domain.SessionFailed, FailureReason: "provider quota exhausted",
	}, fmt.Errorf("analysis: %w", domain.ErrQuotaExhausted))

	cs := connect(t, sessions, nil)
	res := call(t, cs, "create_session", map[string]any{"snapshot": map[string]any{}})

	require.True(t, res.IsError)
	out := texts(res)
	require.Len(t, out, 2)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[1]), &body))
	assert.Equal(t, domain.ErrCodeQuotaExhausted, body["code"])
	assert.Equal(t, "provider quota exhausted", body["failure_reason"])
}

func TestServer_GetSessionStatus(t *testing.T) {
	sessions := &testutil.MockSessionAPI{}
	sessions.On("GetSessionStatus", mock.Anything, "s1").Return(domain.SessionStatusReport{
		SessionID: "s1", Status: domain.SessionWaitingAnswer, CurrentStep: 1, TotalSteps: 4, Progress: 0.25,
	}, nil)

	cs := connect(t, sessions, nil)
	res := call(t, cs, "get_session_status", map[string]any{"session_id": "s1"})

	require.False(t, res.IsError)
	assert.Contains(t, texts(res)[0], "step 1 of 4")
}

func TestServer_UnknownSessionIsToolError(t *testing.T) {
	sessions := &testutil.MockSessionAPI{}
	sessions.On("GetSessionStatus", mock.Anything, "nope").
		Return(domain.SessionStatusReport{}, fmt.Errorf("session nope: %w", domain.ErrNotFound))

	cs := connect(t, sessions, nil)
	res := call(t, cs, "get_session_status", map[string]any{"session_id": "nope"})

	assert.True(t, res.IsError)
}

func TestServer_SubmitAnswer(t *testing.T) {
	sessions := &testutil.MockSessionAPI{}
	sessions.On("SubmitAnswer", mock.Anything, "s1", mock.MatchedBy(func(a domain.Answer) bool {
		return a.QuestionID == "q1" && a.AnswerText == "yes, daily"
	})).Return(&domain.AnalysisResult{Status: domain.ResultOK}, nil)

	cs := connect(t, sessions, nil)
	res := call(t, cs, "submit_answer", map[string]any{
		"session_id": "s1", "question_id": "q1", "answer_text": "yes, daily",
	})

	require.False(t, res.IsError, texts(res))
	var result domain.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(texts(res)[1]), &result))
	assert.Equal(t, domain.ResultOK, result.Status)
}

func TestServer_SubmitAnswerKeepsLastResult(t *testing.T) {
	sessions := &testutil.MockSessionAPI{}
	sessions.On("SubmitAnswer", mock.Anything, "s1", mock.Anything).
		Return(&domain.AnalysisResult{Status: domain.ResultOK}, fmt.Errorf("submit: %w", domain.ErrSessionTerminal))

	cs := connect(t, sessions, nil)
	res := call(t, cs, "submit_answer", map[string]any{
		"session_id": "s1", "question_id": "q1", "answer_text": "late",
	})

	require.True(t, res.IsError)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(texts(res)[1]), &body))
	assert.Equal(t, domain.ErrCodeSessionTerminal, body["code"])
	assert.Contains(t, body, "analysis_result")
}

func TestServer_DeleteSession(t *testing.T) {
	sessions := &testutil.MockSessionAPI{}
	sessions.On("DeleteSession", mock.Anything, "s1").Return(nil)

	cs := connect(t, sessions, nil)
	res := call(t, cs, "delete_session", map[string]any{"session_id": "s1"})

	require.False(t, res.IsError)
	assert.Contains(t, texts(res)[0], "deleted")
	sessions.AssertExpectations(t)
}

func TestServer_PatternStats(t *testing.T) {
	patterns := &testutil.MockPatternService{}
	patterns.On("PatternStats").Return(pattern.Stats{Total: 7})
	cs := connect(t, &testutil.MockSessionAPI{}, patterns)

	res := call(t, cs, "get_pattern_stats", map[string]any{})
	require.False(t, res.IsError)
	assert.Equal(t, "7 learned patterns", texts(res)[0])
}

func TestServer_RecordPatternFeedback(t *testing.T) {
	patterns := &testutil.MockPatternService{}
	patterns.On("RecordPatternFeedback", mock.Anything, "p1", mock.MatchedBy(func(fb domain.PatternFeedback) bool {
		return !fb.Helpful && fb.Note == "wrong drug class"
	})).Return(&domain.Pattern{ID: "p1", Confidence: 0.45, FeedbackHistory: []domain.PatternFeedback{{}}}, nil)
	patterns.On("RecordPatternFeedback", mock.Anything, "missing", mock.Anything).Return(nil, domain.ErrNotFound)
	cs := connect(t, &testutil.MockSessionAPI{}, patterns)

	res := call(t, cs, "record_pattern_feedback", map[string]any{"pattern_id": "p1", "helpful": false, "note": "wrong drug class"})
	require.False(t, res.IsError, texts(res))
	assert.Equal(t, "Pattern p1 confidence is now 0.45", texts(res)[0])

	res = call(t, cs, "record_pattern_feedback", map[string]any{"pattern_id": "missing", "helpful": true})
	assert.True(t, res.IsError)
	patterns.AssertExpectations(t)
}

func TestServer_ExportImportPatterns(t *testing.T) {
	body := `{"version":"1","patterns":[]}`
	path := filepath.Join(t.TempDir(), "backup", "patterns.json")

	patterns := &testutil.MockPatternService{}
	patterns.On("ExportPatterns", mock.Anything, mock.Anything).Return(body, nil)
	patterns.On("PatternStats").Return(pattern.Stats{Total: 3})
	patterns.On("ImportPatterns", mock.Anything, body).Return(2, 1, nil)
	cs := connect(t, &testutil.MockSessionAPI{}, patterns)

	res := call(t, cs, "export_patterns", map[string]any{"file_path": path})
	require.False(t, res.IsError, texts(res))
	assert.Equal(t, fmt.Sprintf("Exported 3 patterns to %s", path), texts(res)[0])

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, string(written))

	res = call(t, cs, "import_patterns", map[string]any{"file_path": path})
	require.False(t, res.IsError, texts(res))
	assert.Equal(t, "Imported 2 patterns, skipped 1", texts(res)[0])
	patterns.AssertExpectations(t)
}

func TestServer_ImportPatternsMissingFile(t *testing.T) {
	cs := connect(t, &testutil.MockSessionAPI{}, &testutil.MockPatternService{})

	res := call(t, cs, "import_patterns", map[string]any{"file_path": filepath.Join(t.TempDir(), "absent.json")})
	assert.True(t, res.IsError)

	res = call(t, cs, "export_patterns", map[string]any{"file_path": ""})
	assert.True(t, res.IsError)
}
