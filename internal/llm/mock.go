package llm

import (
	"context"
	"strings"

	"review-insights-go/internal/prompt"
	"review-insights-go/internal/types"
)

// Mock answers deterministically from keywords in the review. Enabled with USE_MOCK_LLM=true.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

var mockProducts = []string{"세탁기", "냉장고", "건조기", "정수기", "안마의자", "에어컨", "청소기", "TV"}

var mockPurchase = []struct {
	keywords []string
	answer   string
	axis     int
}{
	{[]string{"구매", "샀", "구입", "purchase"}, "구매", 0},
	{[]string{"렌탈", "렌트", "대여", "rental"}, "렌트", 1},
	{[]string{"구독", "정기", "subscription"}, "구독", 2},
}

func (m *Mock) Complete(_ context.Context, req types.CompletionRequest) (string, error) {
	review := lastReview(req.Prompt)
	values := mockValues(review)
	if req.System == prompt.SystemInstruction {
		return prompt.FormatAnswer(values), nil
	}
	for i, label := range prompt.Labels {
		if strings.HasSuffix(strings.TrimSpace(req.Prompt), label+":") {
			return values[i], nil
		}
	}
	return types.NoneMarker, nil
}

// Embed maps text onto four axes: purchase, rental, subscription, unknown.
func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	lower := strings.ToLower(text)
	hit := false
	for _, p := range mockPurchase {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				vec[p.axis]++
				hit = true
			}
		}
	}
	if !hit {
		vec[3] = 1
	}
	return vec, nil
}

func mockValues(review string) [types.FieldCount]string {
	values := [types.FieldCount]string{
		types.NoneMarker,
		types.NoneMarker,
		types.NoneMarker,
		"중립",
		types.NoneMarker,
		types.NoneMarker,
		review,
	}
	for _, p := range mockProducts {
		if strings.Contains(review, p) {
			values[types.FieldProductType] = p
			break
		}
	}
	for _, p := range mockPurchase {
		for _, kw := range p.keywords {
			if strings.Contains(review, kw) {
				values[types.FieldPurchaseMethod] = p.answer
			}
		}
		if values[types.FieldPurchaseMethod] != types.NoneMarker {
			break
		}
	}
	switch {
	case strings.Contains(review, "좋") || strings.Contains(review, "만족") || strings.Contains(review, "최고"):
		values[types.FieldSentiment] = "긍정"
	case strings.Contains(review, "별로") || strings.Contains(review, "불만") || strings.Contains(review, "실망"):
		values[types.FieldSentiment] = "부정"
	}
	if len([]rune(review)) > 40 {
		values[types.FieldSummary] = string([]rune(review)[:40])
	}
	return values
}

// lastReview pulls the target review out of a prompt built by package prompt.
// The review sits between the last "리뷰 분석:" header and the trailing
// answer marker, and may itself span several paragraphs.
func lastReview(p string) string {
	const header = "리뷰 분석:\n"
	p = strings.TrimSpace(p)
	i := strings.LastIndex(p, header)
	if i < 0 {
		return p
	}
	rest := p[i+len(header):]
	if j := strings.LastIndex(rest, "\n\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
