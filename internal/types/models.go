package types

import "time"

// NoneMarker is the explicit "absent content" value used by the model and by sentinel records.
const NoneMarker = "none"

// TimeLayout renders start/end timestamps in the output table.
const TimeLayout = "2006-01-02 15:04:05"

// Review is the raw review text. It is never modified after load.
type Review string

// WorkItem is a review waiting for a worker. Seq is its position in the input.
type WorkItem struct {
	Seq      int    `json:"seq"`
	Review   Review `json:"review"`
	Attempts int    `json:"attempts"`
}

// Field identifies one of the seven extracted values, in output order.
type Field int

const (
	FieldContext Field = iota
	FieldProductType
	FieldPurchaseMethod
	FieldSentiment
	FieldPros
	FieldCons
	FieldSummary
)

// FieldCount is the number of content fields in every AnalysisResult.
const FieldCount = 7

// Fields lists every field in output order.
var Fields = [FieldCount]Field{
	FieldContext,
	FieldProductType,
	FieldPurchaseMethod,
	FieldSentiment,
	FieldPros,
	FieldCons,
	FieldSummary,
}

var fieldNames = [FieldCount]string{
	"context",
	"product_type",
	"purchase_method",
	"sentiment",
	"pros",
	"cons",
	"summary",
}

func (f Field) String() string {
	if f < 0 || int(f) >= FieldCount {
		return "unknown"
	}
	return fieldNames[f]
}

// AnalysisResult holds the seven extracted values plus request timing.
type AnalysisResult struct {
	Context        string    `json:"context"`
	ProductType    string    `json:"product_type"`
	PurchaseMethod string    `json:"purchase_method"`
	Sentiment      string    `json:"sentiment"`
	Pros           string    `json:"pros"`
	Cons           string    `json:"cons"`
	Summary        string    `json:"summary"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`

	// Fallback is set when the values were fetched one field at a time.
	Fallback bool `json:"fallback,omitempty"`
}

// NewAnalysisResult builds a result from values ordered as Fields.
func NewAnalysisResult(values [FieldCount]string) AnalysisResult {
	return AnalysisResult{
		Context:        values[FieldContext],
		ProductType:    values[FieldProductType],
		PurchaseMethod: values[FieldPurchaseMethod],
		Sentiment:      values[FieldSentiment],
		Pros:           values[FieldPros],
		Cons:           values[FieldCons],
		Summary:        values[FieldSummary],
	}
}

// SentinelResult returns a record whose content fields are all NoneMarker.
func SentinelResult() AnalysisResult {
	var values [FieldCount]string
	for i := range values {
		values[i] = NoneMarker
	}
	return NewAnalysisResult(values)
}

// Values returns the content fields in output order.
func (a AnalysisResult) Values() [FieldCount]string {
	return [FieldCount]string{
		a.Context,
		a.ProductType,
		a.PurchaseMethod,
		a.Sentiment,
		a.Pros,
		a.Cons,
		a.Summary,
	}
}

// IsSentinel reports whether every content field holds NoneMarker.
func (a AnalysisResult) IsSentinel() bool {
	for _, v := range a.Values() {
		if v != NoneMarker {
			return false
		}
	}
	return true
}

// ResultRecord pairs a review with its analysis; one row of output.
type ResultRecord struct {
	Seq    int            `json:"seq"`
	Review Review         `json:"review"`
	Result AnalysisResult `json:"result"`
}

// OutputHeader is the fixed column order of the output table.
var OutputHeader = []string{
	"reviews",
	"context",
	"product_type",
	"purchase_method",
	"sentiment",
	"pros",
	"cons",
	"summary",
	"start_time",
	"end_time",
}

// Row renders the record in OutputHeader order.
func (r ResultRecord) Row() []string {
	v := r.Result.Values()
	row := make([]string, 0, len(OutputHeader))
	row = append(row, string(r.Review))
	row = append(row, v[:]...)
	row = append(row,
		r.Result.StartTime.Format(TimeLayout),
		r.Result.EndTime.Format(TimeLayout),
	)
	return row
}

// FewShotExample is a worked review with its expected answer, used to prime prompts.
type FewShotExample struct {
	Review Review
	Answer [FieldCount]string
}
