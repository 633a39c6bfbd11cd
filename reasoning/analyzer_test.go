package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/medreason/background"
	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/llm"
	"github.com/brunobiangulo/medreason/store"
)

type mockChat struct {
	mock.Mock
}

func (m *mockChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.ChatResponse)
	return resp, args.Error(1)
}

type auditRecorder struct {
	mu   sync.Mutex
	recs []store.AnalysisRecord
}

func (a *auditRecorder) SaveAnalysis(ctx context.Context, rec store.AnalysisRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *auditRecorder) records() []store.AnalysisRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]store.AnalysisRecord(nil), a.recs...)
}

const reportJSON = `{
  "summary": "Hemoglobin is within range.",
  "keyFindings": ["Normal hemoglobin"],
  "abnormalValues": [{"parameter": "Glucose", "value": 130, "normal": "70-100", "significance": "Elevated"}],
  "riskAssessment": {"level": "low", "factors": "none significant"},
  "recommendations": ["Repeat fasting glucose"],
  "followUp": "3 months",
  "relatedConditions": ["Prediabetes"]
}`

func newTestAnalyzer(t *testing.T, chat llm.Provider) (*Analyzer, *auditRecorder, *background.Queue) {
	t.Helper()
	kb := knowledge.New(nil)
	audit := &auditRecorder{}
	q := background.New(background.Config{})
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return NewAnalyzer(kb, chat, audit, q, AnalyzerConfig{Timeout: time.Second}), audit, q
}

func TestAnalyzeNotConfigured(t *testing.T) {
	a, _, _ := newTestAnalyzer(t, nil)
	_, err := a.Analyze(context.Background(), "Hemoglobin: 14.2", "Blood Test")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAnalyzeParsedReport(t *testing.T) {
	chat := &mockChat{}
	var prompt string
	chat.On("Chat", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(llm.ChatRequest)
			prompt = req.Messages[len(req.Messages)-1].Content
		}).
		Return(&llm.ChatResponse{Content: "```json\n" + reportJSON + "\n```", Model: "gemini-2.5-flash", TotalTokens: 50}, nil).
		Once()

	a, audit, q := newTestAnalyzer(t, chat)
	text := "Hemoglobin: 14.2 g/dL (13.5-17.5)\nGlucose: 130 mg/dL (70-100)"

	res, err := a.Analyze(context.Background(), text, "Blood Test")
	require.NoError(t, err)
	chat.AssertExpectations(t)

	require.NotNil(t, res.Report)
	assert.Empty(t, res.Raw)
	assert.Equal(t, "Hemoglobin is within range.", res.Report.Summary)
	assert.Equal(t, Text("130"), res.Report.AbnormalValues[0].Value)
	assert.Equal(t, TextList{"none significant"}, res.Report.RiskAssessment.Factors)
	assert.Equal(t, TextList{"3 months"}, res.Report.FollowUp)
	assert.Equal(t, AnalysisSources, res.Sources)
	assert.Equal(t, 0.85, res.Confidence)

	assert.Contains(t, res.Terms, "hemoglobin")
	assert.Contains(t, res.Terms, "glucose")
	assert.Contains(t, prompt, "Hemoglobin: Oxygen-carrying protein")
	assert.Contains(t, prompt, "relatedConditions")

	require.NotNil(t, res.Enhancements)
	assert.Equal(t, res.Terms, res.Enhancements.ExtractedEntities)
	assert.NotEmpty(t, res.Enhancements.AdditionalResources)

	require.NoError(t, q.Flush(context.Background()))
	recs := audit.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Blood Test", recs[0].ReportType)
	assert.Equal(t, "low", recs[0].RiskLevel)
	assert.Equal(t, "gemini-2.5-flash", recs[0].ModelUsed)
	assert.NotEmpty(t, recs[0].ID)
	assert.True(t, json.Valid(recs[0].Response))
}

func TestAnalyzeRawFallback(t *testing.T) {
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).
		Return(&llm.ChatResponse{Content: "The report looks normal overall."}, nil)

	a, audit, q := newTestAnalyzer(t, chat)
	res, err := a.Analyze(context.Background(), "Routine check", "")
	require.NoError(t, err)

	assert.Nil(t, res.Report)
	assert.Nil(t, res.Enhancements)
	assert.Equal(t, "The report looks normal overall.", res.Raw)

	require.NoError(t, q.Flush(context.Background()))
	require.Len(t, audit.records(), 1)
	assert.Equal(t, "Medical Report", audit.records()[0].ReportType)
}

func TestAnalyzeCompletionFailure(t *testing.T) {
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 500"))

	a, audit, q := newTestAnalyzer(t, chat)
	_, err := a.Analyze(context.Background(), "Hemoglobin: 9", "Blood Test")
	assert.ErrorIs(t, err, ErrCompletion)
	assert.NotErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, q.Flush(context.Background()))
	assert.Empty(t, audit.records())
}

func TestAnalyzeEmptyCompletion(t *testing.T) {
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).Return(&llm.ChatResponse{Content: ""}, nil)

	a, _, _ := newTestAnalyzer(t, chat)
	_, err := a.Analyze(context.Background(), "text", "Blood Test")
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
}

func TestAuditExcerptTruncated(t *testing.T) {
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).Return(&llm.ChatResponse{Content: reportJSON}, nil)

	a, audit, q := newTestAnalyzer(t, chat)
	long := make([]rune, 800)
	for i := range long {
		long[i] = 'é'
	}
	_, err := a.Analyze(context.Background(), string(long), "Blood Test")
	require.NoError(t, err)

	require.NoError(t, q.Flush(context.Background()))
	recs := audit.records()
	require.Len(t, recs, 1)
	assert.Len(t, []rune(recs[0].SourceExcerpt), 500)
}

type blockingSubmitter struct{}

func (blockingSubmitter) Submit(string, background.Task) bool { return false }

func TestAuditDropDoesNotFailAnalysis(t *testing.T) {
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).Return(&llm.ChatResponse{Content: reportJSON}, nil)

	a := NewAnalyzer(knowledge.New(nil), chat, &auditRecorder{}, blockingSubmitter{}, AnalyzerConfig{})
	res, err := a.Analyze(context.Background(), "Glucose: 130", "Blood Test")
	require.NoError(t, err)
	assert.NotNil(t, res.Report)
}

func TestAnalyzeTimeout(t *testing.T) {
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	kb := knowledge.New(nil)
	a := NewAnalyzer(kb, chat, nil, nil, AnalyzerConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := a.Analyze(context.Background(), "Glucose: 130", "Blood Test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
