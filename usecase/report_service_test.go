package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/mianshi/domain/entities"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
	system   string
	prompt   string
}

func (f *fakeLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	f.system = system
	f.prompt = prompt
	return f.response, f.err
}

type fakeResults struct {
	saved []*entities.InterviewResult
	err   error
}

func (f *fakeResults) Save(ctx context.Context, result *entities.InterviewResult) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, result)
	return nil
}

func (f *fakeResults) GetByID(ctx context.Context, id string) (*entities.InterviewResult, error) {
	return nil, errors.New("not implemented")
}

func substantiveTranscript() []entities.Message {
	return []entities.Message{
		{ID: "1", Role: entities.MessageRoleAssistant, Content: "请做一下自我介绍"},
		{ID: "2", Role: entities.MessageRoleUser, Content: "我是一名产品经理，负责过两个千万级用户的增长项目"},
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]entities.Message{
		{Role: entities.MessageRoleAssistant, Content: "你好"},
		{Role: entities.MessageRoleUser, Content: "您好"},
	})
	want := "面试官：你好\n候选人：您好"
	if got != want {
		t.Errorf("FormatTranscript() = %q, want %q", got, want)
	}
}

func TestGenerateSilentCandidate(t *testing.T) {
	tests := []struct {
		name     string
		messages []entities.Message
	}{
		{name: "no messages"},
		{
			name: "only short answers",
			messages: []entities.Message{
				{Role: entities.MessageRoleAssistant, Content: "请做一下自我介绍"},
				{Role: entities.MessageRoleUser, Content: "嗯"},
				{Role: entities.MessageRoleUser, Content: "…"},
			},
		},
		{
			name: "exactly ten characters",
			messages: []entities.Message{
				{Role: entities.MessageRoleUser, Content: "一二三四五六七八九十"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{}
			service := NewReportService(llm, nil, zaptest.NewLogger(t))

			report, err := service.Generate(context.Background(), tt.messages)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if llm.calls != 0 {
				t.Error("Expected model not to be called")
			}
			if report.TotalScore != 5 || len(report.Dimensions) != 4 {
				t.Errorf("Expected silent report, got %+v", report)
			}
			for _, d := range report.Dimensions {
				if d.Score != 5 {
					t.Errorf("Expected dimension score 5, got %d for %s", d.Score, d.Name)
				}
			}
		})
	}
}

func TestGenerateParsesModelOutput(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{
			name:     "plain json",
			response: `{"totalScore":72,"dimensions":[{"name":"表达清晰度","score":75}],"suggestions":["🎯 多用数据"]}`,
		},
		{
			name:     "fenced json",
			response: "好的：\n```json\n{\"totalScore\":72,\"dimensions\":[{\"name\":\"表达清晰度\",\"score\":75}],\"suggestions\":[\"🎯 多用数据\"]}\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{response: tt.response}
			service := NewReportService(llm, nil, zaptest.NewLogger(t))

			report, err := service.Generate(context.Background(), substantiveTranscript())
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if report.TotalScore != 72 {
				t.Errorf("Expected score 72, got %d", report.TotalScore)
			}
			if report.Highlights == nil {
				t.Error("Expected missing highlights filled with an empty list")
			}
			if report.OverallComment != "" || report.Dimensions[0].Comment != "" {
				t.Errorf("Expected missing comments as empty strings, got %+v", report)
			}
			if !strings.Contains(llm.prompt, "候选人：我是一名产品经理") {
				t.Error("Expected transcript in prompt")
			}
			if !strings.Contains(llm.prompt, "用户回答次数：1") {
				t.Error("Expected answer count in prompt")
			}
			if llm.system == "" {
				t.Error("Expected system instruction")
			}
		})
	}
}

func TestGenerateFallbackOnUnparseableOutput(t *testing.T) {
	service := NewReportService(&fakeLLM{response: "抱歉，我无法评估"}, nil, zaptest.NewLogger(t))

	report, err := service.Generate(context.Background(), substantiveTranscript())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if report.TotalScore != 55 {
		t.Errorf("Expected fallback score 55, got %d", report.TotalScore)
	}

	want := []int{55, 50, 55, 52}
	for i, d := range report.Dimensions {
		if d.Score != want[i] {
			t.Errorf("Dimension %s score = %d, want %d", d.Name, d.Score, want[i])
		}
	}
}

func TestGenerateModelError(t *testing.T) {
	service := NewReportService(&fakeLLM{err: errors.New("quota exceeded")}, nil, zaptest.NewLogger(t))

	_, err := service.Generate(context.Background(), substantiveTranscript())
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Expected wrapped model error, got %v", err)
	}
}

func TestFinalize(t *testing.T) {
	settings := entities.Settings{Mode: entities.ModeInternet, Duration: 15}

	t.Run("saves result", func(t *testing.T) {
		results := &fakeResults{}
		service := NewReportService(&fakeLLM{response: `{"totalScore":80}`}, results, zaptest.NewLogger(t))

		result, err := service.Finalize(context.Background(), substantiveTranscript(), settings)
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if len(results.saved) != 1 || results.saved[0] != result {
			t.Fatalf("Expected result saved once")
		}
		if result.Report.TotalScore != 80 {
			t.Errorf("Expected score 80, got %d", result.Report.TotalScore)
		}
	})

	t.Run("without repository", func(t *testing.T) {
		service := NewReportService(&fakeLLM{response: `{"totalScore":80}`}, nil, zaptest.NewLogger(t))
		result, err := service.Finalize(context.Background(), substantiveTranscript(), settings)
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if result.ID.IsZero() {
			t.Error("Expected result ID")
		}
	})

	t.Run("save error", func(t *testing.T) {
		results := &fakeResults{err: errors.New("disk full")}
		service := NewReportService(&fakeLLM{response: `{"totalScore":80}`}, results, zaptest.NewLogger(t))
		if _, err := service.Finalize(context.Background(), substantiveTranscript(), settings); err == nil {
			t.Error("Expected save error")
		}
	})
}
