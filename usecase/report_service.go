package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/domain/repositories"
)

const (
	interviewerLabel = "面试官："
	candidateLabel   = "候选人："

	// a candidate line needs more than this many characters to count as an answer
	substantiveAnswerRunes = 10
	fallbackScore          = 55
)

var dimensionNames = []string{"表达清晰度", "逻辑结构", "专业深度", "应变能力"}

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

const reportSystemPrompt = `你是一位资深的面试评估专家，以"毒舌但真诚"著称。
你的评价特点：
1. 绝不虚高打分，宁可得罪人也说实话
2. 建议超级具体，会引用原话指出问题
3. 会用一些幽默和网络用语，但核心是帮助用户成长
4. 分数客观真实：90+顶级、70-89良好、50-69一般、30-49较差、0-29很差
5. 如果用户表现差，你会直接指出，不会为了讨好而给中等分

请只输出JSON格式的评估报告，不要有其他文字。`

// ReportService turns a finished transcript into a scored report
type ReportService struct {
	llm     repositories.LargeLanguageModel
	results repositories.ResultRepository
	logger  *zap.Logger
}

// NewReportService creates a new report service. results may be nil when
// persistence is not configured.
func NewReportService(llm repositories.LargeLanguageModel, results repositories.ResultRepository, logger *zap.Logger) *ReportService {
	return &ReportService{
		llm:     llm,
		results: results,
		logger:  logger,
	}
}

// FormatTranscript renders messages as labelled lines, one per turn
func FormatTranscript(messages []entities.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		label := candidateLabel
		if m.Role == entities.MessageRoleAssistant {
			label = interviewerLabel
		}
		lines = append(lines, label+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Generate scores the transcript
func (s *ReportService) Generate(ctx context.Context, messages []entities.Message) (*entities.Report, error) {
	transcript := FormatTranscript(messages)
	answers, substantive := analyzeAnswers(transcript)

	if !substantive {
		s.logger.Info("Transcript has no substantive answers, skipping model", zap.Int("answers", answers))
		return silentReport(), nil
	}

	if s.llm == nil {
		return nil, fmt.Errorf("failed to generate report: no language model configured")
	}

	content, err := s.llm.Generate(ctx, reportSystemPrompt, reportPrompt(transcript, answers, substantive))
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	report, err := parseReport(content)
	if err != nil {
		s.logger.Warn("Failed to parse report, using fallback", zap.Error(err))
		return fallbackReport(), nil
	}
	return report, nil
}

// Finalize generates the report and stores the result when persistence is configured
func (s *ReportService) Finalize(ctx context.Context, messages []entities.Message, settings entities.Settings) (*entities.InterviewResult, error) {
	report, err := s.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	result := entities.NewInterviewResult(messages, settings, report)
	if s.results == nil {
		return result, nil
	}
	if err := s.results.Save(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save result: %w", err)
	}
	return result, nil
}

func analyzeAnswers(transcript string) (answers int, substantive bool) {
	for _, line := range strings.Split(transcript, "\n") {
		if !strings.Contains(line, candidateLabel) {
			continue
		}
		answers++
		content := strings.TrimSpace(strings.Replace(line, candidateLabel, "", 1))
		if utf8.RuneCountInString(content) > substantiveAnswerRunes {
			substantive = true
		}
	}
	return answers, substantive
}

func parseReport(content string) (*entities.Report, error) {
	raw := strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}

	var report entities.Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	if report.Highlights == nil {
		report.Highlights = []string{}
	}
	if report.Suggestions == nil {
		report.Suggestions = []string{}
	}
	if report.Dimensions == nil {
		report.Dimensions = []entities.ReportDimension{}
	}
	return &report, nil
}

func reportPrompt(transcript string, answers int, substantive bool) string {
	analysis := "几乎没有/非常敷衍"
	if substantive {
		analysis = "有"
	}

	var b strings.Builder
	b.WriteString("你的任务是根据面试对话记录，生成一份【真实、具体、有建设性】的评估报告。\n\n")
	b.WriteString("【核心原则】\n")
	b.WriteString("1. 绝对不能为了讨好用户而虚高打分\n")
	b.WriteString("2. 如果候选人几乎没有回答问题或者回答很敷衍，分数必须很低（0-30分）\n")
	b.WriteString("3. 建议必须具体，要引用对话中的原话来指出问题\n\n")
	fmt.Fprintf(&b, "【对话记录】\n%s\n\n", transcript)
	fmt.Fprintf(&b, "【对话分析】\n用户是否有实质性回答：%s\n用户回答次数：%d\n\n", analysis, answers)
	b.WriteString(`【输出格式】
请严格按照以下JSON格式输出：
{
  "totalScore": 数字(0-100),
  "dimensions": [
    {"name": "表达清晰度", "score": 数字, "comment": "一句话点评"},
    {"name": "逻辑结构", "score": 数字, "comment": "一句话点评"},
    {"name": "专业深度", "score": 数字, "comment": "一句话点评"},
    {"name": "应变能力", "score": 数字, "comment": "一句话点评"}
  ],
  "highlights": ["亮点"],
  "suggestions": ["🎯 具体建议：引用原话+问题分析+改进方法"],
  "overallComment": "一段总结性评价"
}

【评分细则】
- 表达清晰度：说话是否流畅，用词是否准确
- 逻辑结构：回答有没有条理，是否使用了框架（如STAR法则）
- 专业深度：是否有具体数据和案例
- 应变能力：被追问时能否灵活应对

请确保只输出JSON，不要有其他文字。`)
	return b.String()
}

func silentReport() *entities.Report {
	comments := []string{
		"你几乎没有说话，无法评估 🤷",
		"没有内容可分析，逻辑结构无从谈起",
		"完全没有展示任何专业内容",
		"连基本回应都没有，谈何应变",
	}
	dims := make([]entities.ReportDimension, len(dimensionNames))
	for i, name := range dimensionNames {
		dims[i] = entities.ReportDimension{Name: name, Score: 5, Comment: comments[i]}
	}

	return &entities.Report{
		TotalScore: 5,
		Dimensions: dims,
		Highlights: []string{},
		Suggestions: []string{
			"🎯 最基本的：你得开口说话啊！面试不是默剧表演 😅",
			"🎯 建议先从简单的自我介绍开始练习，克服紧张感",
			"🎯 准备一些常见问题的回答框架，至少做到有话可说",
			"🎯 如果是网络问题导致没有声音，请检查麦克风设置后重试",
		},
		OverallComment: "这场面试你基本上是来体验界面的吧？😂 第一次紧张很正常。建议先对着镜子练习，克服开口的心理障碍。说得不好可以改进，但不开口就永远不会进步！",
	}
}

func fallbackReport() *entities.Report {
	offsets := []int{0, -5, 0, -3}
	dims := make([]entities.ReportDimension, len(dimensionNames))
	for i, name := range dimensionNames {
		dims[i] = entities.ReportDimension{
			Name:    name,
			Score:   fallbackScore + offsets[i],
			Comment: "评估系统出了点问题，这是临时分数",
		}
	}

	return &entities.Report{
		TotalScore: fallbackScore,
		Dimensions: dims,
		Highlights: []string{},
		Suggestions: []string{
			"🎯 评估系统暂时出了点问题，但你的面试已经记录下来了",
			"🎯 建议稍后再试一次，或者回顾一下对话记录自我评估",
			"🎯 记住：每次练习都是进步的机会！",
		},
		OverallComment: "抱歉，AI评估系统临时抽风了 😅 可以看看对话记录，自己回顾一下哪里可以改进。",
	}
}
