// Package tutor 封装 AI 导师：流式生成回复与结构化分析学生消息。
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lingua-chat-go/internal/config"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/pkg/llm"
	"lingua-chat-go/pkg/log"
)

// Outcome 是一次分析或生成调用的结果类别。
type Outcome int

const (
	// Success 表示模型给出了可用结果。
	Success Outcome = iota
	// Degraded 表示模型调用失败，但已用本地规则给出了兜底结果。
	Degraded
	// Failed 表示没有可用结果。
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Degraded:
		return "degraded"
	default:
		return "failed"
	}
}

// ChunkWriter 接收回复的流式片段。
type ChunkWriter = llm.ChunkWriter

// LearningProgress 是分析给出的学习进度指标。
type LearningProgress struct {
	GrammarConceptsDemonstrated []string `json:"grammar_concepts_demonstrated"`
	VocabularyLevel             string   `json:"vocabulary_level"`
	AreasForImprovement         []string `json:"areas_for_improvement"`
}

// Analysis 是对一条学生消息的结构化分析。
type Analysis struct {
	Corrections          []model.Correction      `json:"corrections"`
	VocabularyUsed       []model.VocabularyUsage `json:"vocabulary_used"`
	Encouragement        string                  `json:"encouragement"`
	DifficultyAssessment string                  `json:"difficulty_assessment"`
	LearningProgress     LearningProgress        `json:"learning_progress"`
}

type AnalysisResult struct {
	Outcome  Outcome
	Analysis Analysis
	Err      error
}

type ReplyRequest struct {
	Message     string
	LearningSet *model.LearningSet
	// History 按时间正序，不含当前消息。
	History []model.ChatMessage
}

// ReplyResult 的 Content 为已经流出的全部文本，失败时可能是部分内容。
type ReplyResult struct {
	Outcome Outcome
	Content string
	Err     error
}

// HealthStatus 是导师服务健康检查的结果。
type HealthStatus struct {
	Status             string `json:"status"`
	Model              string `json:"model,omitempty"`
	APIKeyConfigured   bool   `json:"api_key_configured"`
	TestResponseLength int    `json:"test_response_length,omitempty"`
	Error              string `json:"error,omitempty"`
}

func (h HealthStatus) Healthy() bool { return h.Status == "healthy" }

// Engine 是聊天服务依赖的导师能力。
type Engine interface {
	Analyze(ctx context.Context, text string, set *model.LearningSet) AnalysisResult
	StreamReply(ctx context.Context, req ReplyRequest, w ChunkWriter) ReplyResult
	Starter(set *model.LearningSet) string
	Health(ctx context.Context) HealthStatus
}

// LLMEngine 基于 OpenAI 兼容接口实现 Engine。
type LLMEngine struct {
	client           llm.Client
	historyLimit     int
	apiKeyConfigured bool
}

// NewEngine 创建导师引擎。historyLimit 为回复时携带的最近历史条数。
func NewEngine(client llm.Client, cfg config.LLMConfig, historyLimit int) *LLMEngine {
	return &LLMEngine{
		client:           client,
		historyLimit:     historyLimit,
		apiKeyConfigured: cfg.APIKey != "",
	}
}

// Analyze 调用模型分析学生消息。模型不可用或返回无法解析时退化为关键词匹配；
// 只有调用方取消时才返回 Failed。
func (e *LLMEngine) Analyze(ctx context.Context, text string, set *model.LearningSet) AnalysisResult {
	lc := FormatLearningContext(set)
	raw, err := e.client.CompleteJSON(ctx, analysisMessages(text, lc), nil)
	if err != nil {
		if ctx.Err() != nil {
			return AnalysisResult{Outcome: Failed, Err: ctx.Err()}
		}
		log.Warnw("tutor analysis failed, using fallback", "error", err)
		return AnalysisResult{Outcome: Degraded, Analysis: FallbackAnalysis(text, set), Err: err}
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		log.Warnw("tutor analysis unparseable, using fallback", "error", err)
		return AnalysisResult{Outcome: Degraded, Analysis: FallbackAnalysis(text, set), Err: err}
	}
	return AnalysisResult{Outcome: Success, Analysis: analysis}
}

// StreamReply 流式生成导师回复，每个片段在累积的同时写入 w。
func (e *LLMEngine) StreamReply(ctx context.Context, req ReplyRequest, w ChunkWriter) ReplyResult {
	lc := FormatLearningContext(req.LearningSet)
	msgs := replyMessages(req.Message, lc, req.History, e.historyLimit)

	var sb strings.Builder
	err := e.client.StreamChatMessages(ctx, msgs, nil, llm.ChunkWriterFunc(func(chunk string) error {
		sb.WriteString(chunk)
		return w.WriteChunk(chunk)
	}))
	content := sb.String()
	if err != nil {
		return ReplyResult{Outcome: Failed, Content: content, Err: err}
	}
	if strings.TrimSpace(content) == "" {
		return ReplyResult{Outcome: Failed, Content: content, Err: llm.ErrEmptyResponse}
	}
	return ReplyResult{Outcome: Success, Content: content}
}

// Health 发送一条测试消息检查模型是否可用。
func (e *LLMEngine) Health(ctx context.Context) HealthStatus {
	var n int
	err := e.client.StreamChatMessages(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: "Hello, this is a test message."}},
		nil,
		llm.ChunkWriterFunc(func(chunk string) error {
			n += len(chunk)
			return nil
		}))
	if err == nil && n == 0 {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		return HealthStatus{Status: "unhealthy", Error: err.Error(), APIKeyConfigured: e.apiKeyConfigured}
	}
	return HealthStatus{
		Status:             "healthy",
		Model:              e.client.Model(),
		APIKeyConfigured:   e.apiKeyConfigured,
		TestResponseLength: n,
	}
}

// FallbackAnalysis 在没有模型时给出保守的分析：不做纠错，只识别学习集中出现过的词汇。
func FallbackAnalysis(text string, set *model.LearningSet) Analysis {
	a := Analysis{
		Corrections:          []model.Correction{},
		VocabularyUsed:       []model.VocabularyUsage{},
		Encouragement:        "Great job practicing! Keep up the good work.",
		DifficultyAssessment: "appropriate",
		LearningProgress: LearningProgress{
			GrammarConceptsDemonstrated: []string{},
			VocabularyLevel:             "at grade level",
			AreasForImprovement:         []string{},
		},
	}
	if set == nil {
		return a
	}
	lower := strings.ToLower(text)
	for _, item := range set.VocabularyItems {
		word := strings.TrimSpace(item.Word)
		if word == "" || !strings.Contains(lower, strings.ToLower(word)) {
			continue
		}
		a.VocabularyUsed = append(a.VocabularyUsed, model.VocabularyUsage{
			Word:            item.Word,
			UsedCorrectly:   true,
			Context:         fmt.Sprintf("Found '%s' in message", item.Word),
			DefinitionMatch: true,
		})
	}
	return a
}

var errNoJSONObject = errors.New("no json object in analysis response")

// parseAnalysis 解析模型输出，容忍 markdown 代码块包裹。
func parseAnalysis(raw string) (Analysis, error) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return Analysis{}, errNoJSONObject
	}

	var a Analysis
	if err := json.Unmarshal([]byte(s[start:end+1]), &a); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if a.Corrections == nil {
		a.Corrections = []model.Correction{}
	}
	if a.VocabularyUsed == nil {
		a.VocabularyUsed = []model.VocabularyUsage{}
	}
	return a, nil
}
