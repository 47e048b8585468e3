package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadReview(t *testing.T) {
	tests := []struct {
		name    string
		req     *http.Request
		want    string
		wantErr bool
	}{
		{
			name: "query",
			req:  httptest.NewRequest(http.MethodGet, "/analyze?review=%EC%A2%8B%EC%95%84%EC%9A%94", nil),
			want: "좋아요",
		},
		{
			name: "json body",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"review":"냉장고 샀어요"}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			}(),
			want: "냉장고 샀어요",
		},
		{
			name: "plain body",
			req:  httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("정수기 렌탈")),
			want: "정수기 렌탈",
		},
		{
			name:    "missing",
			req:     httptest.NewRequest(http.MethodGet, "/analyze", nil),
			wantErr: true,
		},
		{
			name: "bad json",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("{"))
				r.Header.Set("Content-Type", "application/json")
				return r
			}(),
			wantErr: true,
		},
		{
			name:    "method",
			req:     httptest.NewRequest(http.MethodDelete, "/analyze", nil),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readReview(tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("readReview: %v", err)
			}
			if got != tt.want {
				t.Fatalf("readReview = %q, want %q", got, tt.want)
			}
		})
	}
}
