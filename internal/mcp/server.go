// Package mcp exposes the session API as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/pattern"
)

// PatternService administers the learned pattern library.
type PatternService interface {
	PatternStats() pattern.Stats
	RecordPatternFeedback(ctx context.Context, id string, fb domain.PatternFeedback) (*domain.Pattern, error)
	ExportPatterns(ctx context.Context, w io.Writer) error
	ImportPatterns(ctx context.Context, r io.Reader) (imported int, skipped int, err error)
}

// Config holds the server identity.
type Config struct {
	Name    string
	Version string
}

// Server is the MCP front end of the advisor.
type Server struct {
	mcp      *mcp.Server
	sessions domain.SessionAPI
	patterns PatternService
	logger   *logrus.Logger
}

// NewServer creates the MCP server and registers its tools. Without a
// PatternService the pattern tools are not offered.
func NewServer(cfg Config, sessions domain.SessionAPI, patterns PatternService, logger *logrus.Logger) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session API is required")
	}
	if cfg.Name == "" {
		cfg.Name = "supplement-advisor"
	}
	if cfg.Version == "" {
		cfg.Version = "v1.0.0"
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		sessions: sessions,
		patterns: patterns,
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Connect serves a single session over the given transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

type createSessionInput struct {
	Snapshot map[string]any `json:"snapshot" jsonschema:"Health snapshot: age, gender, bmi, vitals, labs, lifestyle, medications, supplements, conditions"`
}

type sessionIDInput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
}

type submitAnswerInput struct {
	SessionID  string `json:"session_id" jsonschema:"Session identifier"`
	QuestionID string `json:"question_id" jsonschema:"Identifier of the question being answered"`
	AnswerText string `json:"answer_text" jsonschema:"Free-text answer"`
}

type statusOutput struct {
	SessionID     string  `json:"session_id"`
	Status        string  `json:"status"`
	CurrentStep   int     `json:"current_step"`
	TotalSteps    int     `json:"total_expected_steps"`
	Progress      float64 `json:"progress"`
	FailureReason string  `json:"failure_reason,omitempty"`
}

type deleteOutput struct {
	SessionID string `json:"session_id"`
	Deleted   bool   `json:"deleted"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_session",
		Description: "Start a recommendation session from a health snapshot and return the session with its first questions",
	}, s.createSession)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_session_status",
		Description: "Report a session's status, step and progress",
	}, s.getSessionStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "submit_answer",
		Description: "Answer a pending question and return the updated analysis",
	}, s.submitAnswer)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_session",
		Description: "Delete a session",
	}, s.deleteSession)

	if s.patterns != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "get_pattern_stats",
			Description: "Summarize the learned pattern library",
		}, s.patternStats)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "record_pattern_feedback",
			Description: "Mark a learned interaction pattern as helpful or not; adjusts its confidence",
		}, s.recordFeedback)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "export_patterns",
			Description: "Write the learned pattern library to a JSON file for backup",
		}, s.exportPatterns)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "import_patterns",
			Description: "Load patterns from a JSON backup file. Known ids are skipped.",
		}, s.importPatterns)
	}

	s.logger.Debug("Registered MCP tools")
}

func (s *Server) createSession(ctx context.Context, _ *mcp.CallToolRequest, args createSessionInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	var snapshot domain.HealthSnapshot
	raw, err := json.Marshal(args.Snapshot)
	if err == nil {
		err = json.Unmarshal(raw, &snapshot)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("invalid snapshot: %w", err)
	}

	sess, err := s.sessions.CreateSession(ctx, snapshot)
	if err != nil {
		if sess != nil {
			return failure(err, map[string]any{"session": sess, "failure_reason": sess.FailureReason}), nil, nil
		}
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":      sess.ID,
		"questions":       len(sess.CurrentQuestions),
		"processing_time": time.Since(start),
	}).Info("Session created over MCP")
	return success(fmt.Sprintf("Session %s created with %d questions", sess.ID, len(sess.CurrentQuestions)), sess)
}

func (s *Server) getSessionStatus(ctx context.Context, _ *mcp.CallToolRequest, args sessionIDInput) (*mcp.CallToolResult, statusOutput, error) {
	report, err := s.sessions.GetSessionStatus(ctx, args.SessionID)
	if err != nil {
		return nil, statusOutput{}, err
	}

	out := statusOutput{
		SessionID:     report.SessionID,
		Status:        string(report.Status),
		CurrentStep:   report.CurrentStep,
		TotalSteps:    report.TotalSteps,
		Progress:      report.Progress,
		FailureReason: report.FailureReason,
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Session %s is %s (step %d of %d)", out.SessionID, out.Status, out.CurrentStep, out.TotalSteps),
		}},
	}, out, nil
}

func (s *Server) submitAnswer(ctx context.Context, _ *mcp.CallToolRequest, args submitAnswerInput) (*mcp.CallToolResult, any, error) {
	answer := domain.Answer{
		QuestionID: args.QuestionID,
		AnswerText: args.AnswerText,
		Timestamp:  time.Now().UTC(),
	}

	result, err := s.sessions.SubmitAnswer(ctx, args.SessionID, answer)
	if err != nil {
		if result != nil {
			return failure(err, map[string]any{"analysis_result": result, "failure_reason": err.Error()}), nil, nil
		}
		return nil, nil, err
	}
	return success("Answer recorded", result)
}

func (s *Server) deleteSession(ctx context.Context, _ *mcp.CallToolRequest, args sessionIDInput) (*mcp.CallToolResult, deleteOutput, error) {
	if err := s.sessions.DeleteSession(ctx, args.SessionID); err != nil {
		return nil, deleteOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Session %s deleted", args.SessionID)}},
	}, deleteOutput{SessionID: args.SessionID, Deleted: true}, nil
}

func (s *Server) patternStats(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, pattern.Stats, error) {
	stats := s.patterns.PatternStats()
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d learned patterns", stats.Total)}},
	}, stats, nil
}

type feedbackInput struct {
	PatternID string `json:"pattern_id" jsonschema:"Identifier of the learned pattern"`
	Helpful   bool   `json:"helpful" jsonschema:"Whether the pattern's warning was accurate"`
	Note      string `json:"note,omitempty" jsonschema:"Optional reviewer note"`
}

type feedbackOutput struct {
	PatternID  string  `json:"pattern_id"`
	Confidence float64 `json:"confidence"`
	Feedback   int     `json:"feedback_entries"`
}

type fileInput struct {
	FilePath string `json:"file_path" jsonschema:"Path of the JSON file"`
}

type transferOutput struct {
	FilePath string `json:"file_path"`
	Imported int    `json:"imported,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
	Exported int    `json:"exported,omitempty"`
}

func (s *Server) recordFeedback(ctx context.Context, _ *mcp.CallToolRequest, args feedbackInput) (*mcp.CallToolResult, feedbackOutput, error) {
	p, err := s.patterns.RecordPatternFeedback(ctx, args.PatternID, domain.PatternFeedback{
		Helpful:    args.Helpful,
		Note:       args.Note,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, feedbackOutput{}, err
	}
	out := feedbackOutput{PatternID: p.ID, Confidence: p.Confidence, Feedback: len(p.FeedbackHistory)}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Pattern %s confidence is now %.2f", p.ID, p.Confidence),
		}},
	}, out, nil
}

func (s *Server) exportPatterns(ctx context.Context, _ *mcp.CallToolRequest, args fileInput) (*mcp.CallToolResult, transferOutput, error) {
	if args.FilePath == "" {
		return nil, transferOutput{}, domain.NewValidationError("file_path", "is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(args.FilePath), 0o755); err != nil {
		return nil, transferOutput{}, fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.Create(args.FilePath)
	if err != nil {
		return nil, transferOutput{}, fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	if err := s.patterns.ExportPatterns(ctx, f); err != nil {
		return nil, transferOutput{}, err
	}
	out := transferOutput{FilePath: args.FilePath, Exported: s.patterns.PatternStats().Total}
	s.logger.WithFields(logrus.Fields{"path": out.FilePath, "patterns": out.Exported}).Info("Patterns exported")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Exported %d patterns to %s", out.Exported, out.FilePath)}},
	}, out, nil
}

func (s *Server) importPatterns(ctx context.Context, _ *mcp.CallToolRequest, args fileInput) (*mcp.CallToolResult, transferOutput, error) {
	if args.FilePath == "" {
		return nil, transferOutput{}, domain.NewValidationError("file_path", "is required", nil)
	}
	f, err := os.Open(args.FilePath)
	if err != nil {
		return nil, transferOutput{}, fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()

	imported, skipped, err := s.patterns.ImportPatterns(ctx, f)
	if err != nil {
		return nil, transferOutput{}, err
	}
	out := transferOutput{FilePath: args.FilePath, Imported: imported, Skipped: skipped}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Imported %d patterns, skipped %d", imported, skipped)}},
	}, out, nil
}

// success renders payload as JSON text alongside the summary line.
func success(summary string, payload any) (*mcp.CallToolResult, any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(body)},
		},
	}, nil, nil
}

// failure is a tool error that still carries the session's last state.
func failure(err error, payload map[string]any) *mcp.CallToolResult {
	code, _ := domain.ErrorCodeFor(err)
	payload["code"] = code
	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		body = []byte(fmt.Sprintf(`{"code":%q}`, code))
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
			&mcp.TextContent{Text: string(body)},
		},
	}
}
