package interview

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/internal/realtime"
)

const (
	transcriptionModel = "whisper-1"
	audioFormat        = "pcm16"
	defaultVoice       = "ash"
	maxResumeRunes     = 2000
)

var roundNames = map[entities.InterviewRound]string{
	entities.RoundHR:       "HR面试",
	entities.RoundBusiness: "业务面试",
	entities.RoundPressure: "压力面试",
	entities.RoundFinal:    "终面",
}

var roundVoices = map[entities.InterviewRound]string{
	entities.RoundPressure: "ash",
	entities.RoundBusiness: "echo",
	entities.RoundHR:       "alloy",
}

var roundPersonas = map[entities.InterviewRound]string{
	entities.RoundPressure: "【人设】你是极其严厉的压力面试官，对敷衍零容忍。语速快，不说客气话和肯定词，对模糊回答直接质疑数据和逻辑。",
	entities.RoundBusiness: "【人设】你是严肃专业的业务面试官，时间很紧。问题直接，对模糊回答追问数据和细节，不做寒暄。",
	entities.RoundHR:       "【人设】你是经验丰富的HR，对套话非常敏感。语气温和但锐利，对空洞回答追问具体例子，保持中立。",
}

// Voice returns the synthesized voice for an interview round
func Voice(round entities.InterviewRound) string {
	if v, ok := roundVoices[round]; ok {
		return v
	}
	return defaultVoice
}

// Instructions renders the interviewer instructions for the session
func Instructions(s entities.Settings) string {
	var b strings.Builder

	switch s.Mode {
	case entities.ModeInternet:
		fmt.Fprintf(&b, "你是%s的%s面试官，正在进行%s。\n", orDefault(s.Company, "一家互联网公司"), orDefault(s.Position, "岗位"), orDefault(roundNames[s.Round], "业务面试"))
		b.WriteString("【面试重点】业务面深挖项目与数据思维；HR面考察价值观与职业规划；压力面高强度追问；终面综合评估文化匹配。\n")
	case entities.ModeCivil:
		fmt.Fprintf(&b, "你是公务员结构化面试的考官，本题类型：%s。\n", orDefault(s.Category, "综合分析"))
		b.WriteString("【评分标准】观点是否正确全面，逻辑是否清晰，表达是否流畅，是否有创新思维。\n")
	case entities.ModeBehavioral:
		fmt.Fprintf(&b, "你是行为面试官，正在考察候选人的%s能力。\n", orDefault(s.Category, "领导力"))
		b.WriteString("【面试方法】用STAR法则追问情境、任务、行动和结果，结果要有数据。\n")
	case entities.ModeResume:
		if s.Position != "" {
			fmt.Fprintf(&b, "你是面试官，目标岗位是%s。\n", s.Position)
		} else {
			b.WriteString("你是面试官。\n")
		}
		fmt.Fprintf(&b, "【候选人简历】\n%s\n", truncateRunes(s.ResumeContent, maxResumeRunes))
		b.WriteString("【面试策略】深挖项目细节，追问数据来源，区分个人与团队贡献，找出疑点追问。\n")
	case entities.ModeTech:
		fmt.Fprintf(&b, "你是技术面试官，正在考察%s方向的%s知识。\n", orDefault(s.TechStack, "通用技术"), orDefault(s.Category, "基础"))
		b.WriteString("【面试策略】从基础概念问起逐步深入，结合实际场景，追问底层原理。\n")
	}

	persona, ok := roundPersonas[s.Round]
	if !ok {
		persona = roundPersonas[entities.RoundBusiness]
	}
	b.WriteString("\n")
	b.WriteString(persona)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "【时间限制】本次面试时长为%d分钟，请合理控制节奏。\n\n", s.Duration)
	b.WriteString("【规则】只用中文交流；每次只问一个问题；根据回答深度最多追问2次；回答跑题或敷衍时直接指出并换题；开场用一句话介绍角色后直接提问。")
	return b.String()
}

// RemainingNotice tells the interviewer how much time is left so it can
// pace question depth.
func RemainingNotice(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	notice := fmt.Sprintf("【面试剩余时间：%d分%02d秒】", seconds/60, seconds%60)
	switch {
	case seconds <= 60:
		return notice + "时间即将结束，请用一句话收尾并结束面试。"
	case seconds <= 180:
		return notice + "不要再展开新话题，针对已有回答做最后追问。"
	default:
		return notice + "根据剩余时间决定追问深度。"
	}
}

// FormatCountdown renders seconds as mm:ss
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// SessionConfig builds the session.update payload for the settings
func SessionConfig(s entities.Settings) realtime.SessionConfig {
	config := realtime.SessionConfig{
		Modalities:              []string{"audio", "text"},
		Instructions:            Instructions(s),
		Voice:                   Voice(s.Round),
		InputAudioFormat:        audioFormat,
		OutputAudioFormat:       audioFormat,
		InputAudioTranscription: &realtime.InputAudioTranscription{Model: transcriptionModel},
	}
	if s.Automatic() {
		// Responses are requested explicitly so each one carries the remaining time
		config.TurnDetection = &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
			CreateResponse:    false,
		}
	}
	return config
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
