// Package prompt assembles the few-shot prompts sent to the completion service.
// Output is byte-stable: the same review always yields the same prompt.
package prompt

import (
	"fmt"
	"strings"

	"review-insights-go/internal/types"
)

// SystemInstruction accompanies every full-analysis request.
const SystemInstruction = "Analyze the following review and provide a structured analysis. " +
	"Do not fabricate content that is not present. Respond accurately only to the given review. " +
	"Mark non-existent content as 'none'"

// Labels are the numbered line labels of the answer template, in field order.
var Labels = [types.FieldCount]string{
	"가전 사용 맥락",
	"제품 종류",
	"구매 형태",
	"리뷰 성향",
	"좋은점",
	"아쉬운점",
	"리뷰 요약",
}

const (
	reviewHeader = "리뷰 분석:"
	answerHeader = "분석 결과:"
)

// DefaultExamples are the two worked examples every prompt is primed with.
var DefaultExamples = []types.FewShotExample{
	{
		Review: "이사 갔을 때 새로 구매한 세탁기가 너무 마음에 들어요. 소음도 적고, 세탁력도 좋습니다. 다만, 가격이 조금 비싼 편이었어요.",
		Answer: [types.FieldCount]string{
			"이사",
			"세탁기",
			"구매",
			"긍정",
			"소음이 적고 세탁력이 좋음",
			"가격이 비쌈",
			"이사 간 집에 새로 구매한 세탁기에 대체로 만족하지만, 가격이 다소 비싸다는 점이 아쉬움.",
		},
	},
	{
		Review: "결혼 기념일에 남편이 선물해준 안마의자는 정말 최고의 선물이었어요. 매일 사용하는데, 피로가 확 풀려요.",
		Answer: [types.FieldCount]string{
			"결혼",
			"안마의자",
			"선물",
			"긍정",
			"피로 회복에 도움",
			"없음",
			"결혼 기념일 선물로 받은 안마의자가 매일의 피로를 풀어주는데 큰 도움이 됨.",
		},
	},
}

// FormatAnswer renders values as the seven "N. label: value" lines.
func FormatAnswer(values [types.FieldCount]string) string {
	lines := make([]string, types.FieldCount)
	for i, v := range values {
		lines[i] = fmt.Sprintf("%d. %s: %s", i+1, Labels[i], v)
	}
	return strings.Join(lines, "\n")
}

// Build returns the full-analysis prompt: each example with its answer, then the review with none.
func Build(review types.Review, examples []types.FewShotExample) string {
	blocks := make([]string, 0, len(examples))
	for _, ex := range examples {
		blocks = append(blocks, fmt.Sprintf("%s\n%s\n\n%s\n%s", reviewHeader, ex.Review, answerHeader, FormatAnswer(ex.Answer)))
	}
	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", strings.Join(blocks, "\n\n"), reviewHeader, review, answerHeader)
}

// FieldInstruction is the system instruction for a single-field request.
func FieldInstruction(field types.Field) string {
	return fmt.Sprintf("Read the following review and answer only with its '%s'. "+
		"Reply with the value alone, without the label. "+
		"Do not fabricate content that is not present. Mark non-existent content as 'none'", Labels[field])
}

// BuildField returns a prompt asking for one field only. The examples show just that field's answer.
func BuildField(review types.Review, field types.Field, examples []types.FewShotExample) string {
	label := Labels[field]
	blocks := make([]string, 0, len(examples))
	for _, ex := range examples {
		blocks = append(blocks, fmt.Sprintf("%s\n%s\n\n%s: %s", reviewHeader, ex.Review, label, ex.Answer[field]))
	}
	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s:", strings.Join(blocks, "\n\n"), reviewHeader, review, label)
}
